package search

import (
	"context"
	"strings"
	"unicode"

	"testdocs/api/internal/store"
)

// DocumentLister is the slice of the store the fallback needs.
type DocumentLister interface {
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]store.Document, error)
}

// StoreFallback searches with the membership-scoped ILIKE listing query.
type StoreFallback struct {
	lister DocumentLister
}

func NewStoreFallback(lister DocumentLister) *StoreFallback {
	return &StoreFallback{lister: lister}
}

func (f *StoreFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	docs, err := f.lister.ListDocuments(ctx, store.DocumentFilter{
		UserID:    q.UserID,
		ProjectID: q.ProjectID,
		Type:      q.Type,
		Status:    q.Status,
		Search:    q.Text,
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(docs)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-q.Offset)
	for _, doc := range docs[q.Offset:end] {
		results = append(results, Result{
			ID:        doc.ID,
			ProjectID: doc.ProjectID,
			Title:     doc.Title,
			Snippet:   snippet(doc.Content, q.Text),
			Type:      doc.Type,
			Status:    doc.Status,
		})
	}
	return results, total, nil
}

const snippetRadius = 60

// snippet returns a window of content around the first case-insensitive
// occurrence of term, or the leading text when term is absent.
func snippet(content, term string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	start := 0
	if term = strings.TrimSpace(term); term != "" {
		if at := indexFold(runes, []rune(term)); at >= 0 {
			start = at - snippetRadius
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + 2*snippetRadius
	if end > len(runes) {
		end = len(runes)
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

// indexFold returns the rune offset of the first case-insensitive match of
// needle in haystack, or -1. Matching is per rune so offsets never drift
// when case mapping changes a character's byte length.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if !foldEqual(haystack[i+j], r) {
				continue outer
			}
		}
		return i
	}
	return -1
}

func foldEqual(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}
