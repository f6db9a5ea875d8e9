package transcript_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxfill/internal/transcript"
)

func TestPreprocess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"digits", "seven five two four one", "7 5 2 4 1"},
		{"case insensitive", "  My zip is Seven FIVE two ", "My zip is 7 5 2"},
		{"whole words only", "someone phoned", "someone phoned"},
		{"tens untouched", "twenty one", "twenty 1"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.Preprocess(tt.in); got != tt.want {
				t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeForPrompt(t *testing.T) {
	t.Parallel()

	got := transcript.SanitizeForPrompt(`say "hi" {a:[1]} \n`)
	want := `say 'hi' a:1 n`
	if got != want {
		t.Errorf("SanitizeForPrompt = %q, want %q", got, want)
	}

	long := strings.Repeat("é", transcript.MaxPromptRunes+10)
	if n := len([]rune(transcript.SanitizeForPrompt(long))); n != transcript.MaxPromptRunes {
		t.Errorf("truncated length = %d runes, want %d", n, transcript.MaxPromptRunes)
	}
}

func TestSanitizeInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  John Smith  ", "John Smith"},
		{"tags stripped", "<b>John</b> <i>Smith</i>", "John Smith"},
		{"script dropped", "hi<script>alert(1)</script>", "hi"},
		{"entities restored", "Tom &amp; Jerry", "Tom & Jerry"},
		{"javascript scheme", "javascript:alert(1)", "alert(1)"},
		{"data scheme", "DATA: text", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := transcript.SanitizeInput(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateText(t *testing.T) {
	t.Parallel()

	if _, err := transcript.ValidateText("  <p></p> "); !errors.Is(err, transcript.ErrEmptyText) {
		t.Errorf("blank markup: err = %v, want ErrEmptyText", err)
	}
	got, err := transcript.ValidateText("my name is Ada")
	if err != nil {
		t.Fatalf("ValidateText: %v", err)
	}
	if got != "my name is Ada" {
		t.Errorf("ValidateText = %q", got)
	}
}

func TestValidateAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		size        int64
		contentType string
		want        error
	}{
		{"ok wav", 1024, "audio/wav", nil},
		{"ok with params", 1024, "audio/webm;codecs=opus", nil},
		{"empty", 0, "audio/wav", transcript.ErrEmptyAudio},
		{"too large", transcript.MaxAudioBytes + 1, "audio/wav", transcript.ErrAudioTooLarge},
		{"at limit", transcript.MaxAudioBytes, "audio/flac", nil},
		{"video", 10, "video/mp4", transcript.ErrUnsupportedAudio},
		{"missing type", 10, "", transcript.ErrUnsupportedAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := transcript.ValidateAudio(tt.size, tt.contentType)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateAudio(%d, %q) = %v, want %v", tt.size, tt.contentType, err, tt.want)
			}
		})
	}
}
