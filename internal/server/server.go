// Package server exposes the voxfill HTTP API.
//
// Routes:
//
//   - POST /api/parse-speech     transcript + form schema → reconciliation result
//   - POST /api/speech-to-text   multipart audio → transcript
//   - GET  /api/llm-status       LLM configuration summary
//   - POST /api/extract-form     HTML document → form schema
//   - POST /api/extract-openapi  OpenAPI operation → form schema
//   - GET  /api/schema           the configured default schema
//   - GET  /healthz, /readyz     probes (when a health handler is set)
//   - GET  /metrics              Prometheus exposition (when a handler is set)
//
// Failures are reported as {"success": false, "error": "..."} with a status
// code derived from the error. Internal error text is logged, never returned.
package server

import (
	"net/http"
	"time"

	"github.com/MrWong99/voxfill/internal/gateway"
	"github.com/MrWong99/voxfill/internal/health"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/ratelimit"
	"github.com/MrWong99/voxfill/pkg/filler"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

// DefaultMaxBodyBytes caps request bodies when [WithMaxBodyBytes] is not
// given. It leaves room for a full-size audio upload plus multipart framing.
const DefaultMaxBodyBytes = 26 << 20

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// StatusReporter summarises the LLM configuration.
type StatusReporter interface {
	Status() gateway.Status
}

// Option is a functional option for [New].
type Option func(*Server)

// WithSTT enables /api/speech-to-text using p.
func WithSTT(p stt.Provider) Option {
	return func(s *Server) { s.stt = p }
}

// WithParseLimiter gates /api/parse-speech behind l.
func WithParseLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.parseLimiter = l }
}

// WithSTTLimiter gates /api/speech-to-text behind l.
func WithSTTLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.sttLimiter = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts the health probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMaxBodyBytes caps every request body at n bytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	session *filler.Session
	llm     StatusReporter
	stt     stt.Provider

	parseLimiter *ratelimit.Limiter
	sttLimiter   *ratelimit.Limiter

	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	maxBody        int64

	now func() time.Time
}

// New creates a [Server] that fills forms through session and reports LLM
// status from llm.
func New(session *filler.Session, llm StatusReporter, opts ...Option) *Server {
	s := &Server{
		session: session,
		llm:     llm,
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed API wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/parse-speech", s.limit(s.parseLimiter, s.handleParseSpeech))
	mux.HandleFunc("POST /api/speech-to-text", s.limit(s.sttLimiter, s.handleSpeechToText))
	mux.HandleFunc("GET /api/llm-status", s.handleLLMStatus)
	mux.HandleFunc("POST /api/extract-form", s.handleExtractForm)
	mux.HandleFunc("POST /api/extract-openapi", s.handleExtractOpenAPI)
	mux.HandleFunc("GET /api/schema", s.handleSchema)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(s.capBody(mux))
}

func (s *Server) capBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.maxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// limit rejects requests once the client has used up l's window. A nil
// limiter disables the check. Store failures let the request through.
func (s *Server) limit(l *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		d, err := l.Check(ctx, ratelimit.ClientIdentifier(r))
		if err != nil {
			observe.Logger(ctx).Warn("rate limit check failed; allowing request", "limiter", l.Name(), "error", err)
			next(w, r)
			return
		}
		ratelimit.SetHeaders(w, d, s.now())
		if !d.Allowed {
			s.metrics.RecordRateLimited(ctx, l.Name())
			writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		next(w, r)
	}
}
