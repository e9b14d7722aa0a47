// Package wakeword decides whether a transcript contains a configured wake
// word.
//
// The base rule is a case-insensitive substring test against every configured
// word, which works for scripts without word boundaries (e.g., "アウラ"). Two
// optional stages loosen it for recognisers that misspell names:
//
//  1. Fuzzy: each whitespace token of the transcript is compared with each
//     single-token wake word by Jaro-Winkler similarity.
//  2. Phonetic: tokens whose Double Metaphone codes overlap a wake word's
//     codes are accepted at a lower Jaro-Winkler threshold.
package wakeword

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultWords are used when New is called with nil words.
var DefaultWords = []string{"アウラ", "あうら", "aura"}

const (
	defaultFuzzyThreshold    = 0.90
	defaultPhoneticThreshold = 0.70
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithFuzzy enables Jaro-Winkler token matching. A token matches when its
// similarity to a wake word is at least threshold. A non-positive threshold
// selects the default of 0.90.
func WithFuzzy(threshold float64) Option {
	return func(m *Matcher) {
		if threshold <= 0 {
			threshold = defaultFuzzyThreshold
		}
		m.fuzzy = threshold
	}
}

// WithPhonetic enables Double Metaphone candidate matching. Phonetic
// candidates are accepted when their Jaro-Winkler similarity is at least
// threshold. A non-positive threshold selects the default of 0.70.
func WithPhonetic(threshold float64) Option {
	return func(m *Matcher) {
		if threshold <= 0 {
			threshold = defaultPhoneticThreshold
		}
		m.phonetic = threshold
	}
}

// Matcher reports whether a transcript contains a wake word. All methods are
// safe for concurrent use.
type Matcher struct {
	fuzzy    float64
	phonetic float64

	mu    sync.RWMutex
	words []word
}

type word struct {
	raw    string
	lower  string
	single bool
	codes  []string
}

// New returns a Matcher for words. Nil words selects [DefaultWords]; an empty
// non-nil slice matches nothing.
func New(words []string, opts ...Option) *Matcher {
	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	if words == nil {
		words = DefaultWords
	}
	m.SetWords(words)
	return m
}

// SetWords replaces the configured wake words. Blank entries are ignored.
func (m *Matcher) SetWords(words []string) {
	compiled := make([]word, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		lower := strings.ToLower(w)
		compiled = append(compiled, word{
			raw:    w,
			lower:  lower,
			single: len(strings.Fields(lower)) == 1,
			codes:  codes(lower),
		})
	}
	m.mu.Lock()
	m.words = compiled
	m.mu.Unlock()
}

// SetThresholds replaces the fuzzy and phonetic thresholds. Zero disables
// the respective stage; negative values are treated as zero.
func (m *Matcher) SetThresholds(fuzzy, phonetic float64) {
	m.mu.Lock()
	m.fuzzy = max(fuzzy, 0)
	m.phonetic = max(phonetic, 0)
	m.mu.Unlock()
}

// Words returns a copy of the configured wake words.
func (m *Matcher) Words() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.words))
	for i, w := range m.words {
		out[i] = w.raw
	}
	return out
}

// Matches reports whether text contains any configured wake word. Empty text
// never matches.
func (m *Matcher) Matches(text string) bool {
	_, ok := m.Match(text)
	return ok
}

// Match is like Matches and also returns the wake word that matched.
func (m *Matcher) Match(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.words {
		if strings.Contains(lower, w.lower) {
			return w.raw, true
		}
	}
	if m.fuzzy == 0 && m.phonetic == 0 {
		return "", false
	}

	for _, tok := range tokens(lower) {
		var tokCodes []string
		if m.phonetic > 0 {
			tokCodes = codes(tok)
		}
		for _, w := range m.words {
			if !w.single {
				continue
			}
			score := matchr.JaroWinkler(tok, w.lower, false)
			if m.fuzzy > 0 && score >= m.fuzzy {
				return w.raw, true
			}
			if m.phonetic > 0 && score >= m.phonetic && overlap(tokCodes, w.codes) {
				return w.raw, true
			}
		}
	}
	return "", false
}

// tokens splits text on whitespace and strips surrounding punctuation.
func tokens(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// codes returns the non-empty Double Metaphone codes of s.
func codes(s string) []string {
	p, alt := matchr.DoubleMetaphone(s)
	var out []string
	if p != "" {
		out = append(out, p)
	}
	if alt != "" && alt != p {
		out = append(out, alt)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}
