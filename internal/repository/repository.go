// Package repository provides record CRUD over a storage backend.
// Every operation runs in its own transaction.
package repository

import (
	"context"
	"fmt"

	"github.com/zot/snippets/internal/storage"
)

// Repository reads and writes snippets.
type Repository struct {
	backend storage.Backend
}

// New creates a repository over b.
func New(b storage.Backend) *Repository {
	return &Repository{backend: b}
}

// Backend returns the underlying storage backend.
func (r *Repository) Backend() storage.Backend {
	return r.backend
}

// view runs fn in a read-only transaction. Failures are ReadErrors.
func (r *Repository) view(ctx context.Context, op string, fn func(storage.Transaction) error) error {
	tx, err := r.backend.Begin(ctx, storage.ReadOnly)
	if err != nil {
		return storage.ReadError(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return storage.ReadError(op, err)
	}
	return nil
}

// update runs fn in a read-write transaction and commits. Failures are WriteErrors.
func (r *Repository) update(ctx context.Context, op string, fn func(storage.Transaction) error) error {
	tx, err := r.backend.Begin(ctx, storage.ReadWrite)
	if err != nil {
		return storage.WriteError(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return storage.WriteError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WriteError(op, err)
	}
	return nil
}

// Create inserts a new record and returns the id the store assigned.
// image may be nil.
func (r *Repository) Create(ctx context.Context, title, content string, image *string) (int64, error) {
	var id int64
	err := r.update(ctx, "create", func(tx storage.Transaction) error {
		var err error
		id, err = tx.Add(&storage.Record{Title: title, Content: content, Image: image})
		return err
	})
	return id, err
}

// Update replaces the record at id. An unknown id is inserted.
func (r *Repository) Update(ctx context.Context, id int64, title, content string, image *string) error {
	if id <= 0 {
		return storage.WriteError("update", fmt.Errorf("invalid id %d", id))
	}
	return r.update(ctx, "update", func(tx storage.Transaction) error {
		_, err := tx.Put(&storage.Record{ID: id, Title: title, Content: content, Image: image})
		return err
	})
}

// Get returns the record at id, or nil if there is none.
func (r *Repository) Get(ctx context.Context, id int64) (*storage.Record, error) {
	var rec *storage.Record
	err := r.view(ctx, "get", func(tx storage.Transaction) error {
		var err error
		rec, err = tx.Get(id)
		return err
	})
	return rec, err
}

// All returns every record in ascending id order.
func (r *Repository) All(ctx context.Context) ([]storage.Record, error) {
	records := []storage.Record{}
	err := r.view(ctx, "getAll", func(tx storage.Transaction) error {
		return tx.Cursor(func(rec *storage.Record) error {
			records = append(records, *rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes the record at id. Deleting an absent id succeeds.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.update(ctx, "delete", func(tx storage.Transaction) error {
		return tx.Delete(id)
	})
}

// Count returns the number of records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.view(ctx, "count", func(tx storage.Transaction) error {
		var err error
		count, err = tx.Count()
		return err
	})
	return count, err
}

// FindByTitle returns the records whose title is exactly title.
func (r *Repository) FindByTitle(ctx context.Context, title string) ([]storage.Record, error) {
	records := []storage.Record{}
	err := r.view(ctx, "findByTitle", func(tx storage.Transaction) error {
		found, err := tx.Lookup(storage.IndexTitle, title)
		for _, rec := range found {
			records = append(records, *rec)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
