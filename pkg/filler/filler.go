// Package filler ties the form-filling pipeline together: it turns a spoken
// transcript into validated form values for a schema.
//
// A [Session] holds the current form schema and the reconciliation settings.
// [Session.ProcessTranscript] runs the whole pipeline against that schema:
//
//	transcript → preprocess → system + client prompt → LLM → reconcile → Result
//
// [Session.Process] runs the same pipeline against an explicit schema, which
// is how the HTTP API serves requests that carry their own form structure.
package filler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxfill/internal/gateway"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/transcript"
	"github.com/MrWong99/voxfill/pkg/form"
	"github.com/MrWong99/voxfill/pkg/form/extract"
	"github.com/MrWong99/voxfill/pkg/form/prompt"
)

// ErrNoSchema is returned by [Session.ProcessTranscript] before a schema has
// been set.
var ErrNoSchema = errors.New("filler: no form schema set")

// Completer sends a prompt pair to a language model. [*gateway.Gateway]
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (string, error)
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithFieldMappings installs per-field transforms and validators.
func WithFieldMappings(m map[string]form.FieldMapping) Option {
	return func(s *Session) { s.mappings.Store(&m) }
}

// WithKeyMatcher enables fuzzy key matching during reconciliation.
func WithKeyMatcher(m form.KeyMatcher) Option {
	return func(s *Session) { s.matcher = m }
}

// WithProvider selects the LLM provider. Empty uses the gateway default.
func WithProvider(name string) Option {
	return func(s *Session) { s.provider = name }
}

// WithMetrics records pipeline latency and field outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session fills one form from speech. All methods are safe for concurrent
// use; a schema replaced mid-flight never affects a run already in progress.
type Session struct {
	llm      Completer
	matcher  form.KeyMatcher
	provider string
	metrics  *observe.Metrics

	schema   atomic.Pointer[form.Schema]
	mappings atomic.Pointer[map[string]form.FieldMapping]
}

// New returns a [Session] that completes prompts with llm.
func New(llm Completer, opts ...Option) *Session {
	s := &Session{llm: llm}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSchema validates schema, normalises it and makes it current.
func (s *Session) SetSchema(schema form.Schema) error {
	if err := form.CheckSchema(&schema); err != nil {
		return err
	}
	n := form.Normalize(schema)
	s.schema.Store(&n)
	return nil
}

// Schema returns the current schema and whether one is set.
func (s *Session) Schema() (form.Schema, bool) {
	p := s.schema.Load()
	if p == nil {
		return form.Schema{}, false
	}
	return *p, true
}

// DetectHTML extracts the richest form from an HTML document and makes it
// current.
func (s *Session) DetectHTML(r io.Reader) (form.Schema, error) {
	schema, err := extract.FromHTML(r)
	if err != nil {
		return form.Schema{}, err
	}
	if err := s.SetSchema(schema); err != nil {
		return form.Schema{}, err
	}
	cur, _ := s.Schema()
	return cur, nil
}

// SetFieldMappings replaces the per-field mappings used by later runs.
func (s *Session) SetFieldMappings(m map[string]form.FieldMapping) {
	s.mappings.Store(&m)
}

// ProcessTranscript fills the current schema from text.
func (s *Session) ProcessTranscript(ctx context.Context, text string) (form.Result, error) {
	p := s.schema.Load()
	if p == nil {
		return form.FailedResult(ErrNoSchema.Error()), ErrNoSchema
	}
	return s.run(ctx, text, *p, s.provider)
}

// Process fills schema from text using provider, or the session's provider
// when empty. The session's current schema is left untouched.
func (s *Session) Process(ctx context.Context, text string, schema form.Schema, provider string) (form.Result, error) {
	if err := form.CheckSchema(&schema); err != nil {
		return form.FailedResult(err.Error()), err
	}
	if provider == "" {
		provider = s.provider
	}
	return s.run(ctx, text, form.Normalize(schema), provider)
}

func (s *Session) run(ctx context.Context, text string, schema form.Schema, provider string) (form.Result, error) {
	ctx, span := observe.StartSpan(ctx, "filler.Process")
	defer span.End()
	start := time.Now()

	text = transcript.Preprocess(text)
	if text == "" {
		return form.FailedResult(transcript.ErrEmptyText.Error()), transcript.ErrEmptyText
	}

	raw, err := s.llm.Complete(ctx, gateway.Request{
		SystemPrompt: prompt.System(schema),
		UserPrompt:   prompt.Client(text),
		Provider:     provider,
	})
	if err != nil {
		span.RecordError(err)
		return form.FailedResult("Failed to parse speech"), fmt.Errorf("filler: complete: %w", err)
	}

	cfg := form.Config{
		ValidateField: form.SchemaValidator(schema),
		KeyMatcher:    s.matcher,
	}
	if m := s.mappings.Load(); m != nil {
		cfg.FieldMappings = *m
	}
	res, err := form.Reconcile(raw, schema, cfg)
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Warn("model output is not a JSON object", "provider", provider, "error", err)
		return res, fmt.Errorf("filler: reconcile: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ParseDuration.Record(ctx, time.Since(start).Seconds())
		transformErrs := 0
		for _, msg := range res.Errors {
			if strings.HasPrefix(msg, "Transform error: ") {
				transformErrs++
			}
		}
		s.metrics.RecordFields(ctx, len(res.UpdatedFields), transformErrs, len(res.Errors)-transformErrs)
	}
	observe.Logger(ctx).Debug("transcript processed",
		"fields", len(schema.Fields),
		"updated", len(res.UpdatedFields),
		"errors", len(res.Errors))
	return res, nil
}
