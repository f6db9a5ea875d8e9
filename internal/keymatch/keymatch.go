// Package keymatch implements [form.KeyMatcher] using Double Metaphone
// phonetic encoding combined with Jaro-Winkler string similarity.
//
// Field names and candidate keys are first normalised: camelCase humps,
// underscores, hyphens and spaces are removed and the result is lower-cased,
// so "firstName", "first_name" and "First-Name" all compare as "firstname".
//
// A key whose Double Metaphone code overlaps the field's code is accepted when
// its Jaro-Winkler score reaches the phonetic threshold (default 0.80). When
// no key sounds alike, the best key scoring at least the fuzzy threshold
// (default 0.90) wins. Codes are computed on the whole normalised string
// rather than per word, so "firstName" and "lastName" do not match on their
// shared "name" suffix.
package keymatch

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxfill/pkg/form"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Compile-time assertion.
var _ form.KeyMatcher = (*Matcher)(nil)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a key that
// sounds like the field name. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a key that does
// not sound like the field name. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches schema field names against model output keys. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MatchKey returns the key in keys most similar to name. Ties keep the
// earlier key. It reports false when no key clears either threshold.
func (m *Matcher) MatchKey(name string, keys []string) (string, bool) {
	target := Normalize(name)
	if target == "" || len(keys) == 0 {
		return "", false
	}
	targetCodes := codes(target)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, key := range keys {
		k := Normalize(key)
		if k == "" {
			continue
		}
		score := matchr.JaroWinkler(target, k, false)
		if overlap(targetCodes, codes(k)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = key, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = key, score
		}
	}
	return best, best != ""
}

// Normalize lower-cases s and drops every rune that is not a letter or digit.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func codes(s string) [2]string {
	p, a := matchr.DoubleMetaphone(s)
	return [2]string{p, a}
}

func overlap(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
