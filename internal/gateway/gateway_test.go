package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxfill/internal/gateway"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/pkg/provider/llm"
	"github.com/MrWong99/voxfill/pkg/provider/llm/mock"
)

var errUpstream = errors.New("upstream 500")

func ok(content string) *mock.Provider {
	return &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: content},
		Caps:             llm.Capabilities{Model: content + "-model"},
	}
}

func TestComplete_BuildsRequest(t *testing.T) {
	t.Parallel()

	p := ok(`{"a":1}`)
	g, err := gateway.New(map[string]llm.Provider{"openai": p},
		gateway.WithTemperature(0.3), gateway.WithMaxTokens(500))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := g.Complete(context.Background(), gateway.Request{SystemPrompt: "sys", UserPrompt: "user"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"a":1}` {
		t.Errorf("Complete = %q", got)
	}

	want := llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "user"}},
		Temperature:  0.3,
		MaxTokens:    500,
	}
	if diff := cmp.Diff(want, p.CompleteCalls[0].Req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p.CompleteCalls[0].Ctx.Deadline(); !ok {
		t.Error("provider context has no deadline")
	}
}

func TestComplete_ProviderSelection(t *testing.T) {
	t.Parallel()

	g, err := gateway.New(map[string]llm.Provider{
		"anthropic": ok("a"),
		"together":  ok("t"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Default() != "anthropic" {
		t.Errorf("Default = %q, want alphabetical first", g.Default())
	}

	tests := []struct {
		provider string
		want     string
		wantErr  error
	}{
		{"", "a", nil},
		{"together", "t", nil},
		{"gemini", "", gateway.ErrUnknownProvider},
	}
	for _, tt := range tests {
		got, err := g.Complete(context.Background(), gateway.Request{Provider: tt.provider})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Complete(%q) err = %v, want %v", tt.provider, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Complete(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestNew_PrefersOpenAI(t *testing.T) {
	t.Parallel()

	g, err := gateway.New(map[string]llm.Provider{"anthropic": ok("a"), "openai": ok("o")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Default() != "openai" {
		t.Errorf("Default = %q, want openai", g.Default())
	}
}

func TestNew_UnknownNames(t *testing.T) {
	t.Parallel()

	providers := map[string]llm.Provider{"openai": ok("o")}
	if _, err := gateway.New(providers, gateway.WithDefault("groq")); !errors.Is(err, gateway.ErrUnknownProvider) {
		t.Errorf("unknown default: err = %v", err)
	}
	if _, err := gateway.New(providers, gateway.WithFallbacks("groq")); !errors.Is(err, gateway.ErrUnknownProvider) {
		t.Errorf("unknown fallback: err = %v", err)
	}
}

func TestComplete_NoProvider(t *testing.T) {
	t.Parallel()

	g, err := gateway.New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Complete(context.Background(), gateway.Request{}); !errors.Is(err, gateway.ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
	if err := g.Ready(); !errors.Is(err, gateway.ErrNoProvider) {
		t.Errorf("Ready = %v, want ErrNoProvider", err)
	}
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []mock.Response{
		{Err: errUpstream},
		{Resp: &llm.CompletionResponse{Content: "ok"}},
	}}
	g, err := gateway.New(map[string]llm.Provider{"openai": p},
		gateway.WithRetry(2),
		gateway.WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 10}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := g.Complete(context.Background(), gateway.Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || p.Calls() != 2 {
		t.Errorf("got (%q, %d calls), want (ok, 2)", got, p.Calls())
	}
}

func TestComplete_RetryExhausted(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errUpstream}
	g, err := gateway.New(map[string]llm.Provider{"openai": p},
		gateway.WithRetry(1),
		gateway.WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 10}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = g.Complete(context.Background(), gateway.Request{})
	if !errors.Is(err, errUpstream) || !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want upstream error wrapped in ErrAllFailed", err)
	}
	if p.Calls() != 2 {
		t.Errorf("calls = %d, want 2", p.Calls())
	}
}

func TestComplete_FallsBack(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{CompleteErr: errUpstream}
	backup := ok("backup")
	g, err := gateway.New(map[string]llm.Provider{"openai": primary, "anthropic": backup},
		gateway.WithDefault("openai"),
		gateway.WithFallbacks("anthropic"),
		gateway.WithRetry(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := g.Complete(context.Background(), gateway.Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "backup" {
		t.Errorf("Complete = %q, want backup", got)
	}
}

func TestComplete_Timeout(t *testing.T) {
	t.Parallel()

	g, err := gateway.New(map[string]llm.Provider{"slow": slowProvider{}},
		gateway.WithTimeout(20*time.Millisecond), gateway.WithRetry(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = g.Complete(context.Background(), gateway.Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

type slowProvider struct{}

func (slowProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func TestComplete_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	g, err := gateway.New(map[string]llm.Provider{"openai": ok("x")}, gateway.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Complete(context.Background(), gateway.Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			found[met.Name] = true
		}
	}
	for _, name := range []string{"voxfill.llm.duration", "voxfill.provider.requests"} {
		if !found[name] {
			t.Errorf("metric %q not recorded", name)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	g, err := gateway.New(map[string]llm.Provider{"openai": ok("gpt")},
		gateway.WithKnownProviders("openai", "anthropic"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := gateway.Status{
		Status:           gateway.StatusReady,
		HasAPIKey:        true,
		SelectedProvider: "openai",
		SelectedModel:    "gpt-model",
		Providers: map[string]gateway.ProviderStatus{
			"openai":    {Configured: true, Model: "gpt-model", Breakers: []string{"openai:closed"}},
			"anthropic": {},
		},
	}
	if diff := cmp.Diff(want, g.Status()); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}

	empty, _ := gateway.New(nil, gateway.WithKnownProviders("openai"))
	if s := empty.Status(); s.Status != gateway.StatusNotConfigured || s.HasAPIKey {
		t.Errorf("empty Status = %+v", s)
	}
}
