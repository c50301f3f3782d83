package library

import (
	"sort"
	"strings"
)

// SortKey selects the ordering of search results.
type SortKey string

const (
	SortByTitle  SortKey = "title"  // lexicographic ascending
	SortByAuthor SortKey = "author" // lexicographic ascending
	SortByYear   SortKey = "year"   // published year descending
)

// Query describes a catalog search. An empty term matches everything, an
// empty category passes all categories through.
type Query struct {
	Term     string
	Category string
	SortBy   SortKey
}

// SearchBooks filters and orders a catalog snapshot. The term matches
// case-insensitively against title, author and description; the category
// must match exactly. Ties keep the snapshot's order. Pure: the input
// slice is not touched.
func SearchBooks(snapshot []Book, q Query) []Book {
	term := strings.ToLower(strings.TrimSpace(q.Term))

	out := make([]Book, 0, len(snapshot))
	for _, b := range snapshot {
		if q.Category != "" && b.Category != q.Category {
			continue
		}
		if term != "" && !matchesTerm(b, term) {
			continue
		}
		out = append(out, b)
	}

	switch q.SortBy {
	case SortByTitle:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	case SortByAuthor:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Author < out[j].Author })
	case SortByYear:
		sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedYear > out[j].PublishedYear })
	}
	return out
}

func matchesTerm(b Book, term string) bool {
	return strings.Contains(strings.ToLower(b.Title), term) ||
		strings.Contains(strings.ToLower(b.Author), term) ||
		strings.Contains(strings.ToLower(b.Description), term)
}

// PartitionByAvailability splits a result set into available and
// unavailable subsets, preserving relative order.
func PartitionByAvailability(books []Book) (available, unavailable []Book) {
	for _, b := range books {
		if b.Available {
			available = append(available, b)
		} else {
			unavailable = append(unavailable, b)
		}
	}
	return available, unavailable
}
