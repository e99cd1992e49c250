package fuzzy

import (
	"strings"
	"unicode"
)

// Distance is the Levenshtein edit distance between two strings, compared
// case-insensitively.
func Distance(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Similarity maps edit distance into [0, 1], 1 meaning identical.
func Similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(Distance(a, b))/float64(longest)
}

// Score ranks how well text matches a query. Prefix and substring matches
// outrank fuzzy word matches; 0 means no resemblance.
func Score(text, query string) float64 {
	text = strings.ToLower(text)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0
	}

	if strings.HasPrefix(text, query) {
		return 1.0
	}
	if strings.Contains(text, query) {
		return 0.95
	}

	textWords := splitWords(text)
	queryWords := splitWords(query)
	if len(queryWords) == 0 {
		return 0
	}

	var total float64
	for _, qw := range queryWords {
		var best float64
		for _, tw := range textWords {
			if sim := Similarity(tw, qw); sim > best {
				best = sim
			}
		}
		total += best
	}
	return (total / float64(len(queryWords))) * 0.9
}

// Match reports whether text resembles the query closely enough to count as
// a search hit. Short queries get a stricter threshold since a one-letter
// edit changes more of them.
func Match(text, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(query)) {
		return true
	}

	threshold := 0.65
	if len(query) <= 3 {
		threshold = 0.8
	} else if len(query) <= 5 {
		threshold = 0.7
	}

	for _, word := range splitWords(strings.ToLower(text)) {
		if Similarity(word, strings.ToLower(query)) >= threshold {
			return true
		}
	}
	return false
}

func splitWords(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
