package index

import (
	"iter"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters without a canonical decomposition are folded explicitly.
var foldReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "o",
	"ł", "l", "Ł", "l",
	"ß", "ss",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"đ", "d", "Đ", "d",
	"ı", "i",
)

// Fold lower-cases s and strips diacritics, so that "Université" and
// "universite" compare equal.
func Fold(s string) string {
	// transform.Chain keeps state and must not be shared between goroutines.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(foldReplacer.Replace(folded))
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

// Tokens yields the folded tokens of text in order, including duplicates.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, tok := range strings.FieldsFunc(Fold(text), isSeparator) {
			if !yield(tok) {
				return
			}
		}
	}
}

// Tokenize returns the distinct tokens of text in first-seen order.
func Tokenize(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for tok := range Tokens(text) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
