package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxfill/internal/app"
	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/internal/mapping"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/ratelimit"
	"github.com/MrWong99/voxfill/pkg/form"
	"github.com/MrWong99/voxfill/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxfill/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxfill/pkg/provider/stt/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// testConfig returns a defaulted config listening on a random local port.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: map[string]llm.Provider{"openai": &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{"email":"ada@example.com"}`},
			Caps:             llm.Capabilities{Provider: "openai", Model: "gpt-4o-mini"},
		}},
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(a *app.App, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_ParsesSpeech(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())

	body := `{"text":"my email is ada@example.com","formStructure":{"fields":[{"name":"email","type":"email"}]}}`
	rec := serve(a, http.MethodPost, "/api/parse-speech", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res form.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Data["email"] != "ada@example.com" {
		t.Errorf("data = %v", res.Data)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "20" {
		t.Errorf("X-RateLimit-Limit = %q, want default 20", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestNew_FieldMappingsApplied(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.FieldMappings = map[string]mapping.Rule{"email": {Transform: []string{"upper"}}}

	a := newApp(t, cfg, testProviders())
	rec := serve(a, http.MethodPost, "/api/parse-speech",
		`{"text":"hi","formStructure":{"fields":[{"name":"email","type":"text"}]}}`)
	if !strings.Contains(rec.Body.String(), "ADA@EXAMPLE.COM") {
		t.Errorf("body = %s, want transformed value", rec.Body.String())
	}
}

func TestNew_DefaultSchemaFromHTML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "form.html")
	html := `<form id="contact"><input name="email" type="email"><input name="phone" type="tel"></form>`
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.SchemaHTML = path

	a := newApp(t, cfg, testProviders())
	schema, ok := a.Session().Schema()
	if !ok || schema.FormID != "contact" || schema.TotalFields != 2 {
		t.Fatalf("Schema() = %+v, %v", schema, ok)
	}
	if rec := serve(a, http.MethodGet, "/api/schema", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /api/schema = %d", rec.Code)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing schema file", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.SchemaHTML = filepath.Join(t.TempDir(), "missing.html")
		if _, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t))); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want ErrNotExist", err)
		}
	})
	t.Run("schema without form", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "page.html")
		if err := os.WriteFile(path, []byte("<p>no form</p>"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := testConfig()
		cfg.SchemaHTML = path
		if _, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t))); !errors.Is(err, form.ErrNoForm) {
			t.Errorf("err = %v, want ErrNoForm", err)
		}
	})
}

type downStore struct{ *ratelimit.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers *app.Providers
		opts      []app.Option
		wantCode  int
		wantBody  string
	}{
		{"ready without stt", testProviders(), nil, http.StatusOK, `"degraded"`},
		{"ready with stt", &app.Providers{LLM: testProviders().LLM, STT: &sttmock.Provider{}}, nil, http.StatusOK, `"status":"ok"`},
		{"no llm", &app.Providers{}, nil, http.StatusServiceUnavailable, `"llm":"fail`},
		{"store down", testProviders(), []app.Option{app.WithStore(downStore{ratelimit.NewMemory()})}, http.StatusServiceUnavailable, `"ratelimit":"fail`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newApp(t, testConfig(), tt.providers, tt.opts...)
			rec := serve(a, http.MethodGet, "/readyz", "")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSpeechToText_FallsBack(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.STT = &sttmock.Provider{ProviderName: "openai", Err: errors.New("quota")}
	backup := &sttmock.Provider{ProviderName: "deepgram"}
	backup.Result.Text = "hello"
	providers.STTFallbacks = append(providers.STTFallbacks, backup)

	a := newApp(t, testConfig(), providers)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/speech-to-text", strings.NewReader(
		"--b\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.wav\"\r\nContent-Type: audio/wav\r\n\r\nRIFF\r\n--b--\r\n"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"provider":"deepgram"`) {
		t.Errorf("body = %s, want fallback provider", rec.Body.String())
	}
	if backup.CallCount() != 1 {
		t.Errorf("fallback calls = %d, want 1", backup.CallCount())
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errCh:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newApp(t, cfg, testProviders())

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

const reloadYAML = `
server:
  listen_addr: "127.0.0.1:0"
  log_level: %s
providers:
  llm:
    name: openai
`

func TestRun_HotReloadsLogLevel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxfill.yaml")
	write := func(level string, mtime time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(strings.Replace(reloadYAML, "%s", level, 1)), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	write("info", time.Now().Add(-time.Minute))

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	a := newApp(t, cfg, testProviders(), app.WithConfigWatch(path, 10*time.Millisecond), app.WithLogLevel(level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	<-a.Ready()

	write("debug", time.Now())

	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("log level = %v, want debug after reload", level.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
