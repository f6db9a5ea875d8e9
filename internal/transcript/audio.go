package transcript

import (
	"errors"
	"fmt"
	"mime"
	"slices"
	"strings"
)

// MaxAudioBytes is the largest audio upload accepted for transcription.
const MaxAudioBytes = 25 << 20

// Audio validation errors. Their messages are shown to API clients.
var (
	ErrEmptyAudio       = errors.New("Audio file is required")
	ErrAudioTooLarge    = errors.New("Audio file too large. Maximum size is 25MB.")
	ErrUnsupportedAudio = errors.New("Unsupported audio format")
)

// AudioTypes lists the accepted audio media types.
var AudioTypes = []string{
	"audio/wav",
	"audio/mp3",
	"audio/mpeg",
	"audio/mp4",
	"audio/webm",
	"audio/ogg",
	"audio/flac",
}

// ValidateAudio checks an upload's size and media type. contentType may carry
// parameters ("audio/webm;codecs=opus"); only the media type is compared.
func ValidateAudio(size int64, contentType string) error {
	if size <= 0 {
		return ErrEmptyAudio
	}
	if size > MaxAudioBytes {
		return ErrAudioTooLarge
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if !slices.Contains(AudioTypes, mt) {
		return fmt.Errorf("%w: %q", ErrUnsupportedAudio, mt)
	}
	return nil
}
