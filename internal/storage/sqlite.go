package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite driver names.
const (
	DriverCgo  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

var sqliteDialect = &dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE codigos (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			titulo   TEXT NOT NULL,
			conteudo TEXT NOT NULL,
			imagem   TEXT
		)`,
		`CREATE INDEX codigos_titulo ON codigos(titulo)`,
		`CREATE INDEX codigos_conteudo ON codigos(conteudo)`,
		`CREATE INDEX codigos_imagem ON codigos(imagem)`,
	},
}

// SQLiteStorage is a SQLite storage backend.
type SQLiteStorage struct {
	sqlStorage
}

// NewSQLiteStorage opens (or creates) a SQLite database at path using the
// named driver. Use ":memory:" for an in-memory database.
func NewSQLiteStorage(driver, path string) (*SQLiteStorage, error) {
	if driver == "" {
		driver = DriverCgo
	}
	if driver != DriverCgo && driver != DriverPure {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: writes are serialized, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStorage{sqlStorage{db: db, dialect: sqliteDialect}}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
