// Package app wires the voxfill subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the config file, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// ...). When an option is not provided, New creates real implementations from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxfill/internal/config"
	"github.com/MrWong99/voxfill/internal/gateway"
	"github.com/MrWong99/voxfill/internal/health"
	"github.com/MrWong99/voxfill/internal/keymatch"
	"github.com/MrWong99/voxfill/internal/mapping"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/ratelimit"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/internal/server"
	"github.com/MrWong99/voxfill/pkg/filler"
	"github.com/MrWong99/voxfill/pkg/provider/llm"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Limiter names. They prefix rate-limit keys and label metrics.
const (
	LimiterParseSpeech  = "parse_speech"
	LimiterSpeechToText = "speech_to_text"
)

// Providers holds the instantiated backends. Populated by main.go via the
// config registry.
type Providers struct {
	// LLM maps configured provider names (primary and fallbacks) to
	// instances. Empty disables speech parsing.
	LLM map[string]llm.Provider

	// STT is the primary speech-to-text backend. Nil disables transcription.
	STT stt.Provider

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store          ratelimit.Store
	parseLimiter   *ratelimit.Limiter
	sttLimiter     *ratelimit.Limiter
	gateway        *gateway.Gateway
	session        *filler.Session
	metrics        *observe.Metrics
	metricsHandler http.Handler
	handler        http.Handler
	httpServer     *http.Server
	watcher        *config.Watcher

	configPath    string
	watchInterval time.Duration
	logLevel      *slog.LevelVar

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a rate-limit store instead of creating one from config.
func WithStore(s ratelimit.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch hot-reloads the config file at path, polling every
// interval (zero keeps the watcher default).
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init rate-limit store: %w", err)
	}
	a.initLimiters()

	if err := a.initGateway(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	if err := a.initSession(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	if err := a.initWatcher(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	a.initServer()

	return a, nil
}

// initStore connects the rate-limit backend named in the config.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	rl := a.cfg.RateLimit
	switch rl.Backend {
	case config.BackendRedis:
		store, err := ratelimit.DialRedis(ctx, rl.RedisAddr, rl.RedisPassword, rl.RedisDB,
			ratelimit.WithKeyPrefix(rl.KeyPrefix))
		if err != nil {
			return err
		}
		a.store = store
		slog.Info("rate limiting backed by redis", "addr", rl.RedisAddr, "db", rl.RedisDB)
	default:
		a.store = ratelimit.NewMemory()
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) initLimiters() {
	rl := a.cfg.RateLimit
	a.parseLimiter = ratelimit.NewLimiter(LimiterParseSpeech, a.store, toLimit(rl.ParseSpeech))
	a.sttLimiter = ratelimit.NewLimiter(LimiterSpeechToText, a.store, toLimit(rl.SpeechToText))
}

// initGateway builds the LLM gateway over every configured provider. Names
// that were configured but not instantiated are skipped.
func (a *App) initGateway() error {
	p := a.cfg.Parser
	opts := []gateway.Option{
		gateway.WithMetrics(a.metrics),
		gateway.WithKnownProviders(config.ValidProviderNames["llm"]...),
	}
	if p.MaxRetries != nil {
		opts = append(opts, gateway.WithRetry(*p.MaxRetries))
	}
	if p.Timeout > 0 {
		opts = append(opts, gateway.WithTimeout(p.Timeout))
	}
	if p.Temperature != nil {
		opts = append(opts, gateway.WithTemperature(*p.Temperature))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, gateway.WithMaxTokens(p.MaxTokens))
	}
	if _, ok := a.providers.LLM[p.DefaultProvider]; ok {
		opts = append(opts, gateway.WithDefault(p.DefaultProvider))
	}
	var fallbacks []string
	for _, fb := range a.cfg.Providers.LLMFallbacks {
		if _, ok := a.providers.LLM[fb.Name]; ok {
			fallbacks = append(fallbacks, fb.Name)
		}
	}
	if len(fallbacks) > 0 {
		opts = append(opts, gateway.WithFallbacks(fallbacks...))
	}

	gw, err := gateway.New(a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.gateway = gw
	if gw.Default() == "" {
		slog.Warn("no LLM provider available; /api/parse-speech will answer 503")
	}
	return nil
}

// initSession creates the form-filling session and loads the default schema.
func (a *App) initSession() error {
	opts := []filler.Option{filler.WithMetrics(a.metrics)}
	if a.cfg.Parser.FuzzyKeys {
		opts = append(opts, filler.WithKeyMatcher(
			keymatch.New(keymatch.WithFuzzyThreshold(a.cfg.Parser.FuzzyThreshold))))
	}
	mappings, err := mapping.Build(a.cfg.FieldMappings)
	if err != nil {
		return err
	}
	if len(mappings) > 0 {
		opts = append(opts, filler.WithFieldMappings(mappings))
	}
	a.session = filler.New(a.gateway, opts...)

	if path := a.cfg.SchemaHTML; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open schema html: %w", err)
		}
		defer f.Close()
		schema, err := a.session.DetectHTML(f)
		if err != nil {
			return fmt.Errorf("extract schema from %q: %w", path, err)
		}
		slog.Info("default form schema loaded", "path", path, "form", schema.FormName, "fields", schema.TotalFields)
	}
	return nil
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	var opts []config.WatcherOption
	if a.watchInterval > 0 {
		opts = append(opts, config.WithInterval(a.watchInterval))
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig, opts...)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// initServer builds the HTTP handler and server.
func (a *App) initServer() {
	checks := []health.Checker{
		{Name: "llm", Check: func(context.Context) error { return a.gateway.Ready() }},
		health.PingChecker("ratelimit", a.store),
	}

	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithParseLimiter(a.parseLimiter),
		server.WithSTTLimiter(a.sttLimiter),
		server.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	if sttp := a.sttChain(); sttp != nil {
		opts = append(opts, server.WithSTT(sttp))
	} else {
		checks = append(checks, health.Checker{
			Name:     "stt",
			Optional: true,
			Check:    func(context.Context) error { return errors.New("no speech-to-text provider configured") },
		})
	}
	opts = append(opts, server.WithHealth(health.New(checks...)))

	a.handler = server.New(a.session, a.gateway, opts...).Handler()
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
}

// sttChain wraps the STT providers in a fallback group, or returns nil when
// none is configured.
func (a *App) sttChain() stt.Provider {
	primary := a.providers.STT
	if primary == nil {
		return nil
	}
	if len(a.providers.STTFallbacks) == 0 {
		return primary
	}
	chain := resilience.NewSTTFallback(primary, primary.Name(), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("stt circuit breaker state changed", "provider", name, "from", from, "to", to)
			},
		},
	})
	for _, fb := range a.providers.STTFallbacks {
		chain.AddFallback(fb.Name(), fb)
	}
	return chain
}

// Handler returns the routed HTTP API.
func (a *App) Handler() http.Handler { return a.handler }

// Session returns the form-filling session.
func (a *App) Session() *filler.Session { return a.session }

// Addr returns the listener address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Run serves HTTP and, when enabled, watches the config file. It blocks until
// ctx is cancelled or the server fails, then stops the HTTP server within
// the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.httpServer.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: stop http server: %w", err)
		}
		return nil
	})

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	close(a.ready)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyConfig applies the hot-reloadable parts of a changed config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.FieldMappingsChanged {
		m, err := mapping.Build(new.FieldMappings)
		if err != nil {
			// Validated by the watcher's load already.
			slog.Error("rebuild field mappings", "err", err)
		} else {
			a.session.SetFieldMappings(m)
			slog.Info("field mappings reloaded", "changed", d.ChangedFields)
		}
	}
	if d.ParseSpeechLimitChanged {
		a.parseLimiter.SetLimit(toLimit(new.RateLimit.ParseSpeech))
		slog.Info("rate limit changed", "limiter", LimiterParseSpeech,
			"max", new.RateLimit.ParseSpeech.MaxRequests, "window", new.RateLimit.ParseSpeech.Window)
	}
	if d.SpeechToTextLimitChanged {
		a.sttLimiter.SetLimit(toLimit(new.RateLimit.SpeechToText))
		slog.Info("rate limit changed", "limiter", LimiterSpeechToText,
			"max", new.RateLimit.SpeechToText.MaxRequests, "window", new.RateLimit.SpeechToText.Window)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// Shutdown stops the HTTP server and runs closers in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases resources acquired by a New that failed part-way.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}

func toLimit(l config.LimitConfig) ratelimit.Limit {
	return ratelimit.Limit{Max: l.MaxRequests, Window: l.Window}
}
