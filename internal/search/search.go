// Package search finds snippets by case-insensitive substring.
package search

import (
	"context"
	"strings"

	"github.com/zot/snippets/internal/storage"
)

// Engine scans the collection for matching records.
type Engine struct {
	backend storage.Backend
}

// New creates a search engine over b.
func New(b storage.Backend) *Engine {
	return &Engine{backend: b}
}

// Matches reports whether term occurs in the record's title or content,
// ignoring case.
func Matches(rec *storage.Record, term string) bool {
	needle := strings.ToLower(term)
	return strings.Contains(strings.ToLower(rec.Title), needle) ||
		strings.Contains(strings.ToLower(rec.Content), needle)
}

// Search returns the records matching term in ascending id order. The title
// and content indexes only answer exact lookups, so this is a full cursor scan.
// An empty term matches everything; callers treat it as no search.
func (e *Engine) Search(ctx context.Context, term string) ([]storage.Record, error) {
	tx, err := e.backend.Begin(ctx, storage.ReadOnly)
	if err != nil {
		return nil, storage.ReadError("search", err)
	}
	defer tx.Rollback()

	results := []storage.Record{}
	err = tx.Cursor(func(rec *storage.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if Matches(rec, term) {
			results = append(results, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, storage.ReadError("search", err)
	}
	return results, nil
}
