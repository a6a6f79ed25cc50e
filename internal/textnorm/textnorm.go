// Package textnorm normalizes and tokenizes claim text for keyword matching.
//
// Alphabetic and numeric scripts are tokenized into words. Ideographic and
// syllabic scripts (Han, Hiragana, Katakana, Hangul) are tokenized one rune
// per token, so a multi-token phrase match is a word-boundary match for
// English and a substring match for Chinese.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type runeClass int

const (
	classSpace runeClass = iota
	classWord
	classIdeograph
)

func classify(r rune) runeClass {
	switch {
	case isIdeograph(r):
		return classIdeograph
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		return classWord
	default:
		// whitespace, punctuation, symbols and controls separate tokens
		return classSpace
	}
}

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Normalize applies NFKC, Unicode case folding, maps punctuation and symbols
// to spaces, separates ideographic runs from adjacent words and collapses
// whitespace. Full-width forms fold to their ASCII equivalents.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	// A Caser is stateful, so one is created per call.
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))

	prev := classSpace
	for _, r := range s {
		c := classify(r)
		if c == classSpace {
			prev = classSpace
			continue
		}
		if b.Len() > 0 && c != prev {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = c
	}
	return b.String()
}

// Tokens normalizes s and splits it into match tokens.
func Tokens(s string) []string {
	normalized := Normalize(s)
	if normalized == "" {
		return nil
	}

	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		r := []rune(f)
		if isIdeograph(r[0]) {
			for _, ch := range r {
				tokens = append(tokens, string(ch))
			}
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Key returns the canonical lookup key of a phrase.
func Key(s string) string {
	return strings.Join(Tokens(s), " ")
}

// ContainsIdeographs reports whether s contains Han, kana or Hangul runes.
func ContainsIdeographs(s string) bool {
	for _, r := range s {
		if isIdeograph(r) {
			return true
		}
	}
	return false
}

// Text is pre-tokenized text.
type Text struct {
	tokens []string
}

// NewText tokenizes s.
func NewText(s string) Text {
	return Text{tokens: Tokens(s)}
}

// Tokens returns the token sequence.
func (t Text) Tokens() []string {
	return t.tokens
}

// Empty reports whether the text has no tokens.
func (t Text) Empty() bool {
	return len(t.tokens) == 0
}

// Contains reports whether the phrase tokens occur contiguously in t.
func (t Text) Contains(p Phrase) bool {
	n := len(p.Tokens)
	if n == 0 || n > len(t.tokens) {
		return false
	}
	for i := 0; i+n <= len(t.tokens); i++ {
		if t.tokens[i] != p.Tokens[0] {
			continue
		}
		match := true
		for j := 1; j < n; j++ {
			if t.tokens[i+j] != p.Tokens[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// NGrams calls fn with the key of every contiguous n-gram of up to maxN
// tokens, in text order.
func (t Text) NGrams(maxN int, fn func(key string)) {
	for i := range t.tokens {
		var b strings.Builder
		for n := 0; n < maxN && i+n < len(t.tokens); n++ {
			if n > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.tokens[i+n])
			fn(b.String())
		}
	}
}

// Phrase is a tokenized keyword.
type Phrase struct {
	Raw    string
	Tokens []string
	Key    string
}

// NewPhrase tokenizes a keyword.
func NewPhrase(raw string) Phrase {
	tokens := Tokens(raw)
	return Phrase{Raw: raw, Tokens: tokens, Key: strings.Join(tokens, " ")}
}

// Empty reports whether the phrase normalizes to nothing.
func (p Phrase) Empty() bool {
	return len(p.Tokens) == 0
}

// PhraseSet is an immutable list of phrases matched as a group.
type PhraseSet struct {
	phrases []Phrase
}

// NewPhraseSet compiles keywords, dropping any that normalize to nothing.
func NewPhraseSet(keywords []string) PhraseSet {
	set := PhraseSet{phrases: make([]Phrase, 0, len(keywords))}
	for _, kw := range keywords {
		if p := NewPhrase(kw); !p.Empty() {
			set.phrases = append(set.phrases, p)
		}
	}
	return set
}

// Len returns the number of phrases.
func (s PhraseSet) Len() int {
	return len(s.phrases)
}

// FirstMatch returns the first phrase found in any of the texts.
func (s PhraseSet) FirstMatch(texts ...Text) (string, bool) {
	for _, p := range s.phrases {
		for _, t := range texts {
			if t.Contains(p) {
				return p.Raw, true
			}
		}
	}
	return "", false
}

// Matches returns every phrase found in any of the texts, in set order.
func (s PhraseSet) Matches(texts ...Text) []string {
	var found []string
	for _, p := range s.phrases {
		for _, t := range texts {
			if t.Contains(p) {
				found = append(found, p.Raw)
				break
			}
		}
	}
	return found
}

// Raw returns the original keywords of the set.
func (s PhraseSet) Raw() []string {
	out := make([]string, len(s.phrases))
	for i, p := range s.phrases {
		out[i] = p.Raw
	}
	return out
}
