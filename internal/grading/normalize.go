package grading

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText folds a fill-in answer for comparison: case-folded,
// diacritics stripped (NFD, combining marks removed, NFC), đ folded to d,
// surrounding whitespace trimmed. NormalizeText is idempotent.
func NormalizeText(s string) string {
	folded := cases.Fold().String(s)
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(foldStroke),
		norm.NFC,
	)
	out, _, err := transform.String(t, folded)
	if err != nil {
		out = folded
	}
	return strings.TrimSpace(out)
}

// Letters with a stroke have no decomposition, so NFD leaves them alone.
func foldStroke(r rune) rune {
	switch r {
	case 'đ', 'Đ':
		return 'd'
	default:
		return r
	}
}
