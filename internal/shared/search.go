package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldSearchTerm lowercases a term and strips diacritics so that "Pérez"
// matches "perez". Used both when storing customer search text and when
// normalising incoming queries.
//
// The transform chain carries per-use state and is not safe to share, so
// it is built per call. Construction is cheap.
func FoldSearchTerm(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(chain, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
