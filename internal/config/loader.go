package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxfill/internal/mapping"
	"github.com/MrWong99/voxfill/internal/ratelimit"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "together", "anthropic", "gemini", "mistral", "groq", "ollama", "deepseek", "llamacpp"},
	"stt": {"openai", "together", "elevenlabs", "deepgram", "whisper"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodyBytes    = 26 << 20
	DefaultMaxRetries      = 2
	DefaultParseTimeout    = 30 * time.Second
	DefaultTemperature     = 0.1
	DefaultMaxTokens       = 2000
	DefaultFuzzyThreshold  = 0.9
	DefaultServiceName     = "voxfill"
	DefaultSampleRatio     = 1.0
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references
// in secrets, validates the result and fills in defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.LLM)
	expand(&cfg.Providers.STT)
	for i := range cfg.Providers.LLMFallbacks {
		expand(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.STTFallbacks {
		expand(&cfg.Providers.STTFallbacks[i])
	}
	cfg.RateLimit.RedisAddr = os.ExpandEnv(cfg.RateLimit.RedisAddr)
	cfg.RateLimit.RedisPassword = os.ExpandEnv(cfg.RateLimit.RedisPassword)
	cfg.Telemetry.OTLPEndpoint = os.ExpandEnv(cfg.Telemetry.OTLPEndpoint)
	for k, v := range cfg.Telemetry.OTLPHeaders {
		cfg.Telemetry.OTLPHeaders[k] = os.ExpandEnv(v)
	}
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	p := &cfg.Parser
	if p.MaxRetries == nil {
		n := DefaultMaxRetries
		p.MaxRetries = &n
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultParseTimeout
	}
	if p.Temperature == nil {
		t := DefaultTemperature
		p.Temperature = &t
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.FuzzyThreshold == 0 {
		p.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if p.DefaultProvider == "" {
		p.DefaultProvider = cfg.Providers.LLM.Name
	}

	rl := &cfg.RateLimit
	if rl.Backend == "" {
		rl.Backend = BackendMemory
	}
	if rl.KeyPrefix == "" {
		rl.KeyPrefix = ratelimit.DefaultKeyPrefix
	}
	defaultLimit(&rl.ParseSpeech, 20, time.Minute)
	defaultLimit(&rl.SpeechToText, 10, time.Minute)

	t := &cfg.Telemetry
	if t.ServiceName == "" {
		t.ServiceName = DefaultServiceName
	}
	if t.TraceExporter == "" {
		t.TraceExporter = TraceExporterNone
	}
	if t.SampleRatio == nil {
		r := DefaultSampleRatio
		t.SampleRatio = &r
	}
}

func defaultLimit(l *LimitConfig, n int, window time.Duration) {
	if l.MaxRequests == 0 {
		l.MaxRequests = n
	}
	if l.Window == 0 {
		l.Window = window
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, console", cfg.Server.LogFormat))
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":     cfg.Server.ReadTimeout,
		"write_timeout":    cfg.Server.WriteTimeout,
		"shutdown_timeout": cfg.Server.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("server.%s must not be negative", name))
		}
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	errs = append(errs, validateChain("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateChain("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; speech parsing will be unavailable")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; speech-to-text will be unavailable")
	}

	// Parser
	p := cfg.Parser
	if p.DefaultProvider != "" && p.DefaultProvider != cfg.Providers.LLM.Name &&
		!slices.ContainsFunc(cfg.Providers.LLMFallbacks, func(e ProviderEntry) bool { return e.Name == p.DefaultProvider }) {
		errs = append(errs, fmt.Errorf("parser.default_provider %q is not configured under providers.llm or providers.llm_fallbacks", p.DefaultProvider))
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("parser.max_retries %d must not be negative", *p.MaxRetries))
	}
	if p.Timeout < 0 {
		errs = append(errs, errors.New("parser.timeout must not be negative"))
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		errs = append(errs, fmt.Errorf("parser.temperature %.2f is out of range [0, 2]", *p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("parser.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.FuzzyThreshold < 0 || p.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("parser.fuzzy_threshold %.2f is out of range [0, 1]", p.FuzzyThreshold))
	}

	// Rate limiting
	rl := cfg.RateLimit
	if rl.Backend != "" && !rl.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is invalid; valid values: memory, redis", rl.Backend))
	}
	if rl.Backend == BackendRedis && rl.RedisAddr == "" {
		errs = append(errs, errors.New("rate_limit.redis_addr is required when backend is redis"))
	}
	errs = append(errs, validateLimit("rate_limit.parse_speech", rl.ParseSpeech)...)
	errs = append(errs, validateLimit("rate_limit.speech_to_text", rl.SpeechToText)...)

	// Telemetry
	tel := cfg.Telemetry
	if tel.TraceExporter != "" && !tel.TraceExporter.IsValid() {
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, stdout, otlp", tel.TraceExporter))
	}
	if tel.TraceExporter == TraceExporterOTLP && tel.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp"))
	}
	if tel.SampleRatio != nil && (*tel.SampleRatio < 0 || *tel.SampleRatio > 1) {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", *tel.SampleRatio))
	}

	// Field mappings
	if _, err := mapping.Build(cfg.FieldMappings); err != nil {
		errs = append(errs, fmt.Errorf("field_mappings: %w", err))
	}

	return errors.Join(errs...)
}

func validateChain(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	seen := map[string]string{}
	if primary.Name != "" {
		seen[primary.Name] = "providers." + kind
	}
	for i, fb := range fallbacks {
		prefix := fmt.Sprintf("providers.%s_fallbacks[%d]", kind, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if primary.Name == "" {
			errs = append(errs, fmt.Errorf("%s: fallbacks require providers.%s to be set", prefix, kind))
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName(kind, fb.Name)
	}
	return errs
}

func validateLimit(prefix string, l LimitConfig) []error {
	var errs []error
	if l.MaxRequests < 0 {
		errs = append(errs, fmt.Errorf("%s.max_requests %d must not be negative", prefix, l.MaxRequests))
	}
	if l.Window < 0 {
		errs = append(errs, fmt.Errorf("%s.window must not be negative", prefix))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
