// Package similarity holds the string and text scoring functions used to rank
// healing candidates. All functions are pure and return values in [0,1].
package similarity

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTextLength is the longest candidate text callers should pass to TextSimilarity.
const MaxTextLength = 500

var folder = cases.Fold()

// StringSimilarity returns 1 - editDistance/max(len(a), len(b)), measured in runes.
// Equal strings score 1; an empty side scores 0.
func StringSimilarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}

	distance := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(distance)/float64(longest)
	return clamp(score)
}

// TextSimilarity is the Jaccard index of the normalized token sets of a and b.
func TextSimilarity(a, b string) float64 {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}

	intersection := 0
	for token := range aTokens {
		if _, ok := bTokens[token]; ok {
			intersection++
		}
	}
	union := len(aTokens) + len(bTokens) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Normalize case-folds s, applies NFKC and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(folder.String(norm.NFKC.String(s))), " ")
}

// Fold is Normalize plus removal of combining marks, so "Téléphone" folds to "telephone".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return Normalize(stripped)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
