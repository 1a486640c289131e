package storage

import (
	"fmt"
	"strings"
	"sync"
)

// Storage types.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgresql"
)

// Options selects and locates a storage engine.
type Options struct {
	Type   string // memory, sqlite or postgresql
	Driver string // sqlite driver: sqlite3 (cgo) or sqlite (pure Go)
	Path   string // sqlite database file
	URL    string // postgresql connection string
}

func (o Options) key() string {
	return strings.Join([]string{o.Type, o.Driver, o.Path, o.URL}, "|")
}

// Handle is a shared Backend from Open. Close releases this reference; the
// engine closes when the last reference is released.
type Handle struct {
	Backend
	key    string
	closed bool
}

// Close releases the handle.
func (h *Handle) Close() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	entry := registry.open[h.key]
	if entry == nil {
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		return nil
	}
	delete(registry.open, h.key)
	return entry.backend.Close()
}

type registryEntry struct {
	backend Backend
	refs    int
}

var registry = struct {
	mu   sync.Mutex
	open map[string]*registryEntry
}{open: make(map[string]*registryEntry)}

// Open returns a handle on the named store, creating the collection and its
// indexes on first open. Opening the same options again shares the engine.
// Failures are StoreOpenErrors.
func Open(opts Options) (*Handle, error) {
	if opts.Type == "" {
		opts.Type = TypeSQLite
	}
	if opts.Type == TypeSQLite && opts.Path == "" {
		opts.Path = DatabaseName + ".db"
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	key := opts.key()
	if entry := registry.open[key]; entry != nil {
		entry.refs++
		return &Handle{Backend: entry.backend, key: key}, nil
	}

	backend, err := openBackend(opts)
	if err != nil {
		return nil, OpenError("open "+opts.Type, err)
	}
	registry.open[key] = &registryEntry{backend: backend, refs: 1}
	return &Handle{Backend: backend, key: key}, nil
}

func openBackend(opts Options) (Backend, error) {
	switch opts.Type {
	case TypeMemory:
		return NewMemoryStorage(), nil
	case TypeSQLite:
		return NewSQLiteStorage(opts.Driver, opts.Path)
	case TypePostgres:
		if opts.URL == "" {
			return nil, fmt.Errorf("postgresql storage requires a connection url")
		}
		return NewPostgresStorage(opts.URL)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
}
