package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxfill/pkg/provider/llm"
)

// TestBuildParams checks system prompt placement and optional knobs.
func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{name: "anthropic", model: "claude-3-sonnet-20240229"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "extract",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		Temperature:  0.1,
		MaxTokens:    2000,
	})

	if params.Model != "claude-3-sonnet-20240229" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "extract" {
		t.Errorf("first message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "hello" {
		t.Errorf("second message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

// TestBuildParams_ZeroKnobs checks that zero values leave provider defaults.
func TestBuildParams_ZeroKnobs(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected nil knobs, got temperature=%v maxTokens=%v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(params.Messages))
	}
}

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()

	if _, err := New("", "claude-3-sonnet-20240229"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()

	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_AnthropicDefaultModel checks the default model and capabilities.
func TestNew_AnthropicDefaultModel(t *testing.T) {
	t.Parallel()

	p, err := NewAnthropic("", anyllmlib.WithAPIKey("sk-ant-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := llm.Capabilities{Provider: "anthropic", Model: "claude-3-sonnet-20240229"}
	if got := p.Capabilities(); got != want {
		t.Errorf("Capabilities = %+v, want %+v", got, want)
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	t.Parallel()

	p, err := NewOllama("llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Capabilities().Model != "llama3" {
		t.Errorf("Model = %q", p.Capabilities().Model)
	}
}
