// Package storage implements the persistent store for code snippets.
//
// A store holds one collection, "codigos", keyed by an auto-assigned integer id
// with non-unique secondary indexes on titulo, conteudo and imagem. All access
// goes through a Transaction opened in ReadOnly or ReadWrite mode; a failed
// write aborts every write of its transaction.
package storage

import (
	"context"
)

// DatabaseName is the fixed name of the snippet database.
const DatabaseName = "BancoDeCodigos"

// SchemaVersion is the only schema version this package understands.
const SchemaVersion = 1

// Collection is the name of the record collection.
const Collection = "codigos"

// Secondary index names. They match the record field names.
const (
	IndexTitle   = "titulo"
	IndexContent = "conteudo"
	IndexImage   = "imagem"
)

// Indexes lists the secondary indexes created with the collection.
var Indexes = []string{IndexTitle, IndexContent, IndexImage}

// Mode is a transaction mode.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Backend defines the interface for storage engines.
type Backend interface {
	// Begin starts a transaction over the collection.
	Begin(ctx context.Context, mode Mode) (Transaction, error)

	// Close closes the storage backend.
	Close() error
}

// Transaction is a unit of work over the collection. Nothing it writes is
// visible to other transactions until Commit. After any write fails, Commit
// discards all writes and returns that failure.
type Transaction interface {
	// Mode reports the transaction mode.
	Mode() Mode

	// Add inserts a record. A zero ID is assigned by the store; an explicit ID
	// that already exists fails with ErrExists.
	Add(rec *Record) (int64, error)

	// Put inserts or replaces a record. A zero ID is assigned by the store.
	Put(rec *Record) (int64, error)

	// Get returns the record with the given id, or nil if there is none.
	Get(id int64) (*Record, error)

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(id int64) error

	// Cursor calls fn for every record in ascending id order. fn may return
	// ErrStopCursor to end the iteration early.
	Cursor(fn func(*Record) error) error

	// Lookup returns the records whose index value equals value.
	Lookup(index, value string) ([]*Record, error)

	// Count returns the number of records.
	Count() (int, error)

	// Commit completes the transaction.
	Commit() error

	// Rollback cancels the transaction. It is a no-op after Commit.
	Rollback() error
}
