package scoring

import (
	"strings"

	"golang.org/x/text/cases"
)

// fold normalizes text for case-insensitive matching, including non-ASCII
// scripts. A Caser is stateful, so each call gets its own.
func fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if folded := fold(value); folded != "" {
			out = append(out, folded)
		}
	}
	return out
}

// matchTerms returns the folded terms that occur in folded text, in lexicon order.
func matchTerms(text string, terms []string) []string {
	var matched []string
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

// overlaps reports whether any a contains any b or vice versa.
func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.Contains(x, y) || strings.Contains(y, x) {
				return true
			}
		}
	}
	return false
}
