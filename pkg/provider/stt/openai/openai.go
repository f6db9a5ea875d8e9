// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint. [NewTogether] points the same client at Together
// AI's OpenAI-compatible API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

// Default models, languages and endpoints.
const (
	DefaultModel         = "whisper-1"
	DefaultLanguage      = "en"
	TogetherBaseURL      = "https://api.together.xyz/v1"
	TogetherDefaultModel = "openai/whisper-large-v3"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the language sent when the caller gives none.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithName overrides the provider name reported in transcripts.
func WithName(name string) Option {
	return func(p *Provider) {
		p.name = name
	}
}

// Provider implements stt.Provider using openai-go.
type Provider struct {
	client     oai.Client
	model      string
	language   string
	baseURL    string
	name       string
	httpClient *http.Client
}

// New constructs an OpenAI transcription provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model:    DefaultModel,
		language: DefaultLanguage,
		name:     "openai",
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// NewTogether constructs a provider for Together AI's Whisper endpoint.
func NewTogether(apiKey string, opts ...Option) (*Provider, error) {
	opts = append([]Option{
		WithBaseURL(TogetherBaseURL),
		WithModel(TogetherDefaultModel),
		WithName("together"),
	}, opts...)
	return New(apiKey, opts...)
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return p.name }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return stt.Transcript{}, fmt.Errorf("%s: %w", p.name, stt.ErrNoAudio)
	}
	lang := audio.Language
	if lang == "" {
		lang = p.language
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.Data), audio.Name(), contentType),
		Model: oai.AudioModel(p.model),
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%s: transcription: %w", p.name, err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: lang,
		Provider: p.name,
	}, nil
}
