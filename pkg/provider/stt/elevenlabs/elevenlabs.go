// Package elevenlabs provides an STT provider backed by the ElevenLabs
// speech-to-text REST API.
//
// ElevenLabs transcribes background noise into short bursts of punctuation or
// guesses in random languages, so results are filtered: a transcript is
// replaced by the empty string when the language probability is below 0.3,
// the text is shorter than three characters, or fewer than two word
// characters remain once punctuation is removed.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

const (
	// DefaultEndpoint is the ElevenLabs speech-to-text URL.
	DefaultEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	// DefaultModel is the ElevenLabs transcription model.
	DefaultModel = "scribe_v1"

	minLanguageProbability = 0.3
	minTextLength          = 3
	minWordChars           = 2
	maxErrorBody           = 1 << 10
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the model_id form field.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithEndpoint overrides the API URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.endpoint = url
		}
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider for ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

type response struct {
	Text                string  `json:"text"`
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float64 `json:"language_probability"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: %w", stt.ErrNoAudio)
	}

	body, contentType, err := p.form(audio)
	if err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Transcript{}, fmt.Errorf("elevenlabs: API error: %d %s: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(msg)))
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: parse JSON response: %w", err)
	}

	return stt.Transcript{
		Text:                filterNoise(result),
		Language:            result.LanguageCode,
		LanguageProbability: result.LanguageProbability,
		Provider:            p.Name(),
	}, nil
}

func (p *Provider) form(audio stt.Audio) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/webm"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, audio.Name()))
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: write audio data: %w", err)
	}
	if err := mw.WriteField("model_id", p.model); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: write model_id field: %w", err)
	}
	if audio.Language != "" {
		if err := mw.WriteField("language_code", audio.Language); err != nil {
			return nil, "", fmt.Errorf("elevenlabs: write language_code field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// filterNoise returns the transcript text, or "" when it looks like noise.
func filterNoise(r response) string {
	if r.LanguageProbability < minLanguageProbability {
		return ""
	}
	if utf8.RuneCountInString(r.Text) < minTextLength {
		return ""
	}
	clean := strings.TrimSpace(strings.Map(func(c rune) rune {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || unicode.IsSpace(c) {
			return c
		}
		return -1
	}, r.Text))
	if utf8.RuneCountInString(clean) < minWordChars {
		return ""
	}
	return r.Text
}
