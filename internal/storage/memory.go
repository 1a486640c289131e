package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory storage backend.
// Read-write transactions are serialized; reads see committed data.
type MemoryStorage struct {
	records map[int64]*Record
	index   map[string]map[string]map[int64]struct{} // index -> value -> ids
	seq     int64                                    // highest id ever seen
	closed  bool
	mu      sync.RWMutex
	writer  chan struct{} // held by the active read-write transaction
}

// NewMemoryStorage creates a new in-memory storage backend with the
// collection and its indexes already in place.
func NewMemoryStorage() *MemoryStorage {
	m := &MemoryStorage{
		records: make(map[int64]*Record),
		index:   make(map[string]map[string]map[int64]struct{}),
		writer:  make(chan struct{}, 1),
	}
	for _, name := range Indexes {
		m.index[name] = make(map[string]map[int64]struct{})
	}
	return m
}

// Begin starts a transaction. A read-write transaction waits for the previous
// one to finish, or for ctx to be done.
func (m *MemoryStorage) Begin(ctx context.Context, mode Mode) (Transaction, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	tx := &memoryTransaction{storage: m, mode: mode}
	if mode == ReadWrite {
		select {
		case m.writer <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.RLock()
		tx.seq = m.seq
		m.mu.RUnlock()
		tx.pending = make(map[int64]*Record)
	}
	return tx, nil
}

// Close closes the storage backend.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Count returns the number of committed records.
func (m *MemoryStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// apply commits pending writes (must be called without m.mu held).
func (m *MemoryStorage) apply(pending map[int64]*Record, seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range pending {
		if old, ok := m.records[id]; ok {
			m.unindex(old)
			delete(m.records, id)
		}
		if rec != nil {
			m.records[id] = rec
			m.addIndex(rec)
		}
	}
	if seq > m.seq {
		m.seq = seq
	}
}

func (m *MemoryStorage) addIndex(rec *Record) {
	for _, name := range Indexes {
		value, ok := rec.IndexValue(name)
		if !ok {
			continue
		}
		ids := m.index[name][value]
		if ids == nil {
			ids = make(map[int64]struct{})
			m.index[name][value] = ids
		}
		ids[rec.ID] = struct{}{}
	}
}

func (m *MemoryStorage) unindex(rec *Record) {
	for _, name := range Indexes {
		value, ok := rec.IndexValue(name)
		if !ok {
			continue
		}
		ids := m.index[name][value]
		delete(ids, rec.ID)
		if len(ids) == 0 {
			delete(m.index[name], value)
		}
	}
}

// memoryTransaction implements Transaction for MemoryStorage.
// Writes are staged in pending (nil marks a delete) and applied on Commit.
type memoryTransaction struct {
	storage *MemoryStorage
	mode    Mode
	pending map[int64]*Record
	seq     int64
	failed  error
	done    bool
}

func (tx *memoryTransaction) Mode() Mode { return tx.mode }

// writable checks that a write may be staged.
func (tx *memoryTransaction) writable() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// fail records the first write failure; it aborts the transaction.
func (tx *memoryTransaction) fail(err error) error {
	if tx.failed == nil {
		tx.failed = err
	}
	return err
}

// lookup returns the record visible to this transaction.
func (tx *memoryTransaction) lookup(id int64) *Record {
	if rec, ok := tx.pending[id]; ok {
		return rec
	}
	tx.storage.mu.RLock()
	defer tx.storage.mu.RUnlock()
	return tx.storage.records[id]
}

func (tx *memoryTransaction) nextID() int64 {
	tx.seq++
	return tx.seq
}

// Add stages an insert.
func (tx *memoryTransaction) Add(rec *Record) (int64, error) {
	if err := tx.writable(); err != nil {
		return 0, tx.fail(err)
	}
	if rec.ID < 0 {
		return 0, tx.fail(fmt.Errorf("add %d: %w", rec.ID, ErrInvalidID))
	}
	if rec.ID != 0 && tx.lookup(rec.ID) != nil {
		return 0, tx.fail(fmt.Errorf("add %d: %w", rec.ID, ErrExists))
	}
	return tx.stage(rec), nil
}

// Put stages an insert or replace.
func (tx *memoryTransaction) Put(rec *Record) (int64, error) {
	if err := tx.writable(); err != nil {
		return 0, tx.fail(err)
	}
	if rec.ID < 0 {
		return 0, tx.fail(fmt.Errorf("put %d: %w", rec.ID, ErrInvalidID))
	}
	return tx.stage(rec), nil
}

func (tx *memoryTransaction) stage(rec *Record) int64 {
	c := rec.Clone()
	if c.ID == 0 {
		c.ID = tx.nextID()
	} else if c.ID > tx.seq {
		tx.seq = c.ID
	}
	tx.pending[c.ID] = c
	return c.ID
}

// Get returns a copy of the record visible to this transaction.
func (tx *memoryTransaction) Get(id int64) (*Record, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.lookup(id).Clone(), nil
}

// Delete stages a delete.
func (tx *memoryTransaction) Delete(id int64) error {
	if err := tx.writable(); err != nil {
		return tx.fail(err)
	}
	tx.pending[id] = nil
	return nil
}

// visible returns copies of all records visible to this transaction, sorted by id.
func (tx *memoryTransaction) visible(ids map[int64]struct{}, include func(*Record) bool) []*Record {
	tx.storage.mu.RLock()
	var out []*Record
	for id := range ids {
		if _, staged := tx.pending[id]; staged {
			continue
		}
		if rec := tx.storage.records[id]; rec != nil {
			out = append(out, rec.Clone())
		}
	}
	tx.storage.mu.RUnlock()

	for _, rec := range tx.pending {
		if rec != nil && include(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cursor iterates visible records in ascending id order.
func (tx *memoryTransaction) Cursor(fn func(*Record) error) error {
	if tx.done {
		return ErrTxDone
	}
	tx.storage.mu.RLock()
	ids := make(map[int64]struct{}, len(tx.storage.records))
	for id := range tx.storage.records {
		ids[id] = struct{}{}
	}
	tx.storage.mu.RUnlock()

	for _, rec := range tx.visible(ids, func(*Record) bool { return true }) {
		if err := fn(rec); err != nil {
			if err == ErrStopCursor {
				return nil
			}
			return err
		}
	}
	return nil
}

// Lookup reads through a secondary index.
func (tx *memoryTransaction) Lookup(index, value string) ([]*Record, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if !validIndex(index) {
		return nil, fmt.Errorf("unknown index %q", index)
	}
	tx.storage.mu.RLock()
	ids := make(map[int64]struct{})
	for id := range tx.storage.index[index][value] {
		ids[id] = struct{}{}
	}
	tx.storage.mu.RUnlock()

	return tx.visible(ids, func(rec *Record) bool {
		v, ok := rec.IndexValue(index)
		return ok && v == value
	}), nil
}

// Count returns the number of visible records.
func (tx *memoryTransaction) Count() (int, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	tx.storage.mu.RLock()
	count := len(tx.storage.records)
	for id, rec := range tx.pending {
		_, existed := tx.storage.records[id]
		switch {
		case existed && rec == nil:
			count--
		case !existed && rec != nil:
			count++
		}
	}
	tx.storage.mu.RUnlock()
	return count, nil
}

// Commit applies all staged writes, unless a write failed.
func (tx *memoryTransaction) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish()
	if tx.failed != nil {
		return fmt.Errorf("transaction aborted: %w", tx.failed)
	}
	if tx.mode == ReadWrite {
		tx.storage.apply(tx.pending, tx.seq)
	}
	return nil
}

// Rollback discards all staged writes.
func (tx *memoryTransaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

// finish marks the transaction done and releases the writer slot.
func (tx *memoryTransaction) finish() {
	tx.done = true
	if tx.mode == ReadWrite {
		<-tx.storage.writer
	}
}
