package apiapp

import (
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
)

type searchSource []string

func (s searchSource) String(i int) string { return s[i] }
func (s searchSource) Len() int            { return len(s) }

// rankByQuery keeps the items whose text fuzzy-matches query, best match
// first. A blank query returns items unchanged.
func rankByQuery[T any](items []T, query string, text func(T) string) []T {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	haystack := lo.Map(items, func(item T, _ int) string {
		return strings.ToLower(text(item))
	})
	matches := fuzzy.FindFrom(query, searchSource(haystack))
	return lo.Map(matches, func(m fuzzy.Match, _ int) T {
		return items[m.Index]
	})
}
