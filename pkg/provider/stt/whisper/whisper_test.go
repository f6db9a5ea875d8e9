package whisper_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
	"github.com/MrWong99/voxfill/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request and records the language form field.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, lang *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		_, _ = io.Copy(io.Discard, f)
		if lang != nil {
			lang.Store(r.FormValue("language"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var lang atomic.Value
	srv := newMockServer(t, " zip code seven five two ", &calls, &lang)

	p, err := whisper.New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Transcribe(t.Context(), stt.Audio{Data: []byte("RIFF"), Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := stt.Transcript{Text: "zip code seven five two", Language: "de", Provider: "whisper"}
	if got != want {
		t.Errorf("Transcribe = %+v, want %+v", got, want)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if lang.Load() != "de" {
		t.Errorf("language field = %v, want de", lang.Load())
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	t.Parallel()

	var lang atomic.Value
	srv := newMockServer(t, "hi", nil, &lang)
	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(t.Context(), stt.Audio{Data: []byte("x")}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if lang.Load() != "en" {
		t.Errorf("language field = %v, want en", lang.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(t.Context(), stt.Audio{Data: []byte("x")}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_NoAudio(t *testing.T) {
	t.Parallel()

	p, err := whisper.New("http://localhost:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(t.Context(), stt.Audio{}); !errors.Is(err, stt.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
}
