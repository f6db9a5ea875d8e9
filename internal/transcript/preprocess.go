// Package transcript normalises speech transcripts before they reach the
// language model and validates raw user input arriving over HTTP.
//
// [Preprocess] is a literal word-for-digit substitution for the English words
// zero through nine; it is not a number-words parser, so "twenty" is left
// untouched. [SanitizeForPrompt] removes characters that could break the
// surrounding JSON-producing prompt. [SanitizeInput], [ValidateText] and
// [ValidateAudio] guard the HTTP boundary.
package transcript

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPromptRunes bounds the transcript embedded into a prompt.
const MaxPromptRunes = 5000

var digitWords = regexp.MustCompile(`(?i)\b(zero|one|two|three|four|five|six|seven|eight|nine)\b`)

var digitOf = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// Preprocess trims text and replaces every whole-word, case-insensitive
// occurrence of "zero" through "nine" with its digit.
func Preprocess(text string) string {
	return digitWords.ReplaceAllStringFunc(strings.TrimSpace(text), func(w string) string {
		return digitOf[strings.ToLower(w)]
	})
}

var promptReplacer = strings.NewReplacer(
	"{", "",
	"}", "",
	"[", "",
	"]", "",
	`\`, "",
	`"`, "'",
)

// SanitizeForPrompt strips JSON structural characters, swaps double quotes
// for single quotes and truncates to [MaxPromptRunes].
func SanitizeForPrompt(text string) string {
	return truncate(promptReplacer.Replace(text), MaxPromptRunes)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
