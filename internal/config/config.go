// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the voxfill server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxfill/internal/mapping"
)

// LogLevel controls log verbosity for the voxfill server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	// LogFormatText writes logfmt-style lines via slog.TextHandler.
	LogFormatText LogFormat = "text"

	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"

	// LogFormatConsole writes colourised, human-oriented lines. Colour is
	// only used when stderr is a terminal.
	LogFormatConsole LogFormat = "console"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatConsole:
		return true
	}
	return false
}

// RateLimitBackend selects where rate-limit counters live.
type RateLimitBackend string

const (
	BackendMemory RateLimitBackend = "memory"
	BackendRedis  RateLimitBackend = "redis"
)

// IsValid reports whether b is a recognised backend.
func (b RateLimitBackend) IsValid() bool {
	return b == BackendMemory || b == BackendRedis
}

// TraceExporter selects where finished spans are sent.
type TraceExporter string

const (
	// TraceExporterNone records spans for correlation IDs but exports nothing.
	TraceExporterNone TraceExporter = "none"

	// TraceExporterStdout writes spans as JSON to stdout.
	TraceExporterStdout TraceExporter = "stdout"

	// TraceExporterOTLP ships spans to an OTLP/HTTP collector.
	TraceExporterOTLP TraceExporter = "otlp"
)

// IsValid reports whether e is a recognised exporter.
func (e TraceExporter) IsValid() bool {
	switch e {
	case TraceExporterNone, TraceExporterStdout, TraceExporterOTLP:
		return true
	}
	return false
}

// Config is the root configuration structure for voxfill.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Parser    ParserConfig    `yaml:"parser"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// FieldMappings holds per-field transforms and validators keyed by
	// top-level field name. Hot-reloadable.
	FieldMappings map[string]mapping.Rule `yaml:"field_mappings"`

	// SchemaHTML is an optional path to an HTML page whose richest form
	// becomes the default schema served by GET /api/schema.
	SchemaHTML string `yaml:"schema_html"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the voxfill server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text, json or console output. Default: text.
	LogFormat LogFormat `yaml:"log_format"`

	// ReadTimeout bounds reading a whole request. Default: 30s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds handling and writing a response, model calls
	// included. Default: 120s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies. Default: 26 MiB, enough for the
	// largest accepted audio upload plus multipart overhead.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the model backends. Each entry selects a named
// provider registered in the [Registry].
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above, such as "language" for STT providers.
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// ParserConfig tunes transcript parsing.
type ParserConfig struct {
	// DefaultProvider is the LLM used when a request names none. Empty
	// selects providers.llm.
	DefaultProvider string `yaml:"default_provider"`

	// MaxRetries is the number of retries after a failed completion.
	// Default: 2.
	MaxRetries *int `yaml:"max_retries"`

	// Timeout bounds one completion, retries included. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature is the sampling temperature. Default: 0.1.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. Default: 2000.
	MaxTokens int `yaml:"max_tokens"`

	// FuzzyKeys enables phonetic and fuzzy matching of model output keys.
	FuzzyKeys bool `yaml:"fuzzy_keys"`

	// FuzzyThreshold is the minimum similarity for a fuzzy key match.
	// Default: 0.9.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// RateLimitConfig configures request limiting.
type RateLimitConfig struct {
	// Backend is memory (default) or redis.
	Backend RateLimitBackend `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `yaml:"key_prefix"`

	// ParseSpeech limits POST /api/parse-speech. Default: 20 per minute.
	ParseSpeech LimitConfig `yaml:"parse_speech"`

	// SpeechToText limits POST /api/speech-to-text. Default: 10 per minute.
	SpeechToText LimitConfig `yaml:"speech_to_text"`
}

// TelemetryConfig describes the service to OpenTelemetry and selects the span
// exporter. Metrics are always exposed on /metrics. Changes need a restart.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "voxfill".
	ServiceName string `yaml:"service_name"`

	// Environment is reported as deployment.environment when set.
	Environment string `yaml:"environment"`

	// TraceExporter is none (default), stdout or otlp.
	TraceExporter TraceExporter `yaml:"trace_exporter"`

	// OTLPEndpoint is the collector host:port, e.g. "otel-collector:4318".
	// Required for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// OTLPHeaders are sent with every export, typically for authentication.
	// ${VAR} references are expanded from the environment.
	OTLPHeaders map[string]string `yaml:"otlp_headers"`

	// SampleRatio is the fraction of new traces that are sampled. Traces
	// continued from an incoming request follow the caller's decision.
	// Default: 1.
	SampleRatio *float64 `yaml:"sample_ratio"`
}

// LimitConfig is one fixed-window budget. Hot-reloadable.
type LimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}
