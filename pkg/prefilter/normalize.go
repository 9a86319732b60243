// Package prefilter narrows the tool catalog to what an utterance plausibly
// needs before the catalog reaches the reasoning engine. Matching is
// defensive: utterances are normalized so lookalike characters cannot dodge
// keywords, and voice sessions relax matching by adding to the text-mode
// result, never removing from it.
package prefilter

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// confusables maps common Latin-lookalike letters onto their ASCII skeleton.
// Covers the Cyrillic and Greek homographs seen in abuse traffic; NFKC
// upstream already folds fullwidth and other compatibility forms.
var confusables = map[rune]rune{
	'а': 'a', // а
	'е': 'e', // е
	'о': 'o', // о
	'р': 'p', // р
	'с': 'c', // с
	'у': 'y', // у
	'х': 'x', // х
	'ѕ': 's', // ѕ
	'і': 'i', // і
	'ј': 'j', // ј
	'α': 'a', // α
	'ε': 'e', // ε
	'ι': 'i', // ι
	'ο': 'o', // ο
	'ρ': 'p', // ρ
	'υ': 'u', // υ
	'ν': 'v', // ν
}

// Normalize produces the canonical matching form of an utterance: NFKC,
// lowercase, homograph folding, punctuation stripped, whitespace collapsed.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if folded, ok := confusables[r]; ok {
			r = folded
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			pendingSpace = false
		case r == '\'' || r == '’':
			// Contractions collapse rather than split.
		default:
			if !pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
				pendingSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Words returns the normalized word list of an utterance.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}
