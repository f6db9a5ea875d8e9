// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider receives one complete audio recording (as uploaded by the
// browser) and returns its transcript. Vendors live in subpackages: openai
// (also serving Together AI), elevenlabs, whisper (a whisper.cpp server),
// deepgram and mock.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when Transcribe is called without audio data.
var ErrNoAudio = errors.New("stt: no audio data")

// Audio is a complete audio recording.
type Audio struct {
	// Data holds the encoded file contents (wav, webm, mp3, ...).
	Data []byte

	// Filename is forwarded to backends that infer the format from it.
	// Defaults to "recording.webm" when empty.
	Filename string

	// ContentType is the media type of Data, e.g. "audio/webm".
	ContentType string

	// Language is an optional ISO-639-1 hint. Empty keeps the provider default.
	Language string
}

// Name returns Filename or the default upload name.
func (a Audio) Name() string {
	if a.Filename == "" {
		return "recording.webm"
	}
	return a.Filename
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised speech. It may be empty when the backend heard
	// nothing usable.
	Text string

	// Language is the detected or requested language code, if reported.
	Language string

	// LanguageProbability is the backend's confidence in Language (0.0–1.0).
	// Zero when not reported.
	LanguageProbability float64

	// Provider names the backend that produced the transcript.
	Provider string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts audio to text. It returns an error if the backend
	// rejects the request or ctx is cancelled.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)

	// Name returns the registry name of the backend.
	Name() string
}
