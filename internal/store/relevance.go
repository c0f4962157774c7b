package store

import (
	"sort"
	"strings"
	"unicode"
)

// lexicalScore ranks candidate text against a query by token overlap. The
// in-memory stores use it in place of the embedding-backed retrieval a
// production deployment plugs in behind the same interfaces.
func lexicalScore(query, candidate string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	candidateTokens := make(map[string]bool)
	for _, t := range tokenize(candidate) {
		candidateTokens[t] = true
	}
	hits := 0
	for _, t := range queryTokens {
		if candidateTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

type scored[T any] struct {
	value T
	score float64
	index int
}

// rankByScore sorts candidates by descending score, breaking ties by input
// order, and drops zero-score entries.
func rankByScore[T any](items []scored[T]) []T {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].index < items[j].index
	})
	var out []T
	for _, item := range items {
		if item.score > 0 {
			out = append(out, item.value)
		}
	}
	return out
}
