// Package gateway is the single entry point through which voxfill talks to
// language models.
//
// A [Gateway] owns one failover chain per configured provider. Each chain
// starts at the requested provider and continues through the configured
// fallbacks, every hop guarded by its own circuit breaker. Calls run under a
// per-request timeout and are retried with exponential backoff.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/pkg/provider/llm"
	"go.opentelemetry.io/otel/metric"
)

// Defaults applied by [New].
const (
	DefaultMaxRetries  = 2
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000
)

var (
	// ErrNoProvider is returned when no LLM provider is configured.
	ErrNoProvider = errors.New("gateway: no LLM provider configured")

	// ErrUnknownProvider is returned when a request or option names a
	// provider that is not configured.
	ErrUnknownProvider = errors.New("gateway: unknown provider")
)

// Request is one prompt pair sent to a model.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	// Provider selects a configured provider by name. Empty uses the default.
	Provider string
}

// Option is a functional option for configuring a [Gateway].
type Option func(*Gateway)

// WithDefault sets the provider used when a request names none. Without it
// "openai" is preferred when configured, otherwise the alphabetically first
// provider.
func WithDefault(name string) Option {
	return func(g *Gateway) { g.defaultName = name }
}

// WithFallbacks sets the providers tried, in order, after the selected one
// fails. A provider is never its own fallback.
func WithFallbacks(names ...string) Option {
	return func(g *Gateway) { g.fallbacks = names }
}

// WithRetry sets the number of retries after the first attempt.
func WithRetry(maxRetries int) Option {
	return func(g *Gateway) { g.maxRetries = maxRetries }
}

// WithTimeout bounds a whole [Gateway.Complete] call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithTemperature sets the sampling temperature of every request.
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithMaxTokens caps the completion length of every request.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// WithMetrics records latency and request counters to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithCircuitBreaker overrides the breaker settings of every chain hop.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) { g.breaker = cfg }
}

// WithKnownProviders lists provider names that can be configured but may not
// be. They appear in [Gateway.Status] as unconfigured.
func WithKnownProviders(names ...string) Option {
	return func(g *Gateway) { g.known = names }
}

// Gateway routes completion requests to LLM providers. It is safe for
// concurrent use.
type Gateway struct {
	providers map[string]llm.Provider
	chains    map[string]*resilience.LLMFallback

	defaultName string
	fallbacks   []string
	known       []string
	maxRetries  int
	timeout     time.Duration
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
	breaker     resilience.CircuitBreakerConfig
}

// New builds a [Gateway] over providers, keyed by name. An empty map is
// allowed; every call then fails with [ErrNoProvider].
func New(providers map[string]llm.Provider, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		providers:   make(map[string]llm.Provider, len(providers)),
		chains:      make(map[string]*resilience.LLMFallback, len(providers)),
		maxRetries:  DefaultMaxRetries,
		timeout:     DefaultTimeout,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for name, p := range providers {
		if p != nil {
			g.providers[name] = p
		}
	}
	for _, o := range opts {
		o(g)
	}

	if g.defaultName == "" {
		g.defaultName = pickDefault(g.providers)
	} else if _, ok := g.providers[g.defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownProvider, g.defaultName)
	}
	for _, fb := range g.fallbacks {
		if _, ok := g.providers[fb]; !ok {
			return nil, fmt.Errorf("%w: fallback %q", ErrUnknownProvider, fb)
		}
	}

	if g.breaker.OnStateChange == nil {
		g.breaker.OnStateChange = func(name string, from, to resilience.State) {
			slog.Warn("llm circuit breaker state changed", "provider", name, "from", from, "to", to)
		}
	}
	for name, p := range g.providers {
		chain := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{CircuitBreaker: g.breaker})
		for _, fb := range g.fallbacks {
			if fb != name {
				chain.AddFallback(fb, g.providers[fb])
			}
		}
		g.chains[name] = chain
	}
	return g, nil
}

func pickDefault(providers map[string]llm.Provider) string {
	if _, ok := providers["openai"]; ok {
		return "openai"
	}
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Default returns the name of the default provider, or "" when none is
// configured.
func (g *Gateway) Default() string { return g.defaultName }

// Providers returns the configured provider names, sorted.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for n := range g.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Complete sends req to the selected provider and returns the raw completion
// text.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	name := req.Provider
	if name == "" {
		name = g.defaultName
	}
	if name == "" {
		return "", ErrNoProvider
	}
	chain, ok := g.chains[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "gateway.Complete")
	defer span.End()

	creq := llm.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.UserPrompt}},
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	}

	start := time.Now()
	resp, err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries: g.maxRetries,
		Name:       name,
	}, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return chain.Complete(ctx, creq)
	})
	g.record(ctx, name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("gateway: complete via %s: %w", name, err)
	}
	return resp.Content, nil
}

func (g *Gateway) record(ctx context.Context, provider string, d time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(observe.Attr("provider", provider)))
	status := "ok"
	if err != nil {
		status = "error"
		kind := "llm"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "llm_timeout"
		}
		g.metrics.RecordProviderError(ctx, provider, kind)
	}
	g.metrics.RecordProviderRequest(ctx, provider, "llm", status)
}
