package transcript

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// MaxInputRunes bounds free-text input accepted over HTTP.
const MaxInputRunes = 10000

// ErrEmptyText is returned when a text input is missing or blank after
// sanitisation. Its message is shown to API clients verbatim.
var ErrEmptyText = errors.New("Text input is required")

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

var schemeRe = regexp.MustCompile(`(?i)(javascript|data)\s*:`)

// SanitizeInput strips all markup from s, removes script-bearing URL schemes,
// trims whitespace and truncates to [MaxInputRunes].
func SanitizeInput(s string) string {
	s = html.UnescapeString(policy().Sanitize(s))
	s = schemeRe.ReplaceAllString(s, "")
	return truncate(strings.TrimSpace(s), MaxInputRunes)
}

// ValidateText sanitises s and returns the result, or [ErrEmptyText] when
// nothing remains.
func ValidateText(s string) (string, error) {
	clean := SanitizeInput(s)
	if clean == "" {
		return "", ErrEmptyText
	}
	return clean, nil
}
