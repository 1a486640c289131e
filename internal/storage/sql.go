package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// dialect holds the statements that differ between SQL engines.
// Queries are written with ? placeholders and rebound when numbered is set.
type dialect struct {
	name     string
	numbered bool     // $1, $2 ... placeholders
	schema   []string // collection and index DDL
	afterPut string   // optional statement run after an explicit-id put, given the id
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// sqlStorage is the database/sql engine shared by SQLite and PostgreSQL.
type sqlStorage struct {
	db      *sql.DB
	dialect *dialect
}

// initSchema creates the collection on first open and checks the schema version.
func (s *sqlStorage) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			name    TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, s.dialect.rebind("SELECT version FROM schema_meta WHERE name = ?"), DatabaseName).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		for _, stmt := range s.dialect.schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create collection: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind("INSERT INTO schema_meta (name, version) VALUES (?, ?)"), DatabaseName, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != SchemaVersion:
		return fmt.Errorf("schema version %d is not supported (want %d)", version, SchemaVersion)
	}

	return tx.Commit()
}

// Begin starts a transaction.
func (s *sqlStorage) Begin(ctx context.Context, mode Mode) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: mode == ReadOnly && s.dialect.name == "postgresql"})
	if err != nil {
		return nil, err
	}
	return &sqlTransaction{ctx: ctx, tx: tx, mode: mode, dialect: s.dialect}, nil
}

// Close closes the storage backend.
func (s *sqlStorage) Close() error {
	return s.db.Close()
}

const recordColumns = "id, titulo, conteudo, imagem"

// sqlTransaction implements Transaction over a *sql.Tx.
type sqlTransaction struct {
	ctx     context.Context
	tx      *sql.Tx
	mode    Mode
	dialect *dialect
	failed  error
	done    bool
}

func (t *sqlTransaction) Mode() Mode { return t.mode }

func (t *sqlTransaction) writable() error {
	if t.done {
		return ErrTxDone
	}
	if t.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// fail records the first write failure; it aborts the transaction.
func (t *sqlTransaction) fail(err error) error {
	if t.failed == nil {
		t.failed = err
	}
	return err
}

// exec runs a write statement.
func (t *sqlTransaction) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, t.dialect.rebind(query), args...)
	return err
}

// queryRecords runs a record query and reads all rows before returning, so
// callers can issue further statements on the same transaction.
func (t *sqlTransaction) queryRecords(query string, args ...any) ([]*Record, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var image sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &image); err != nil {
			return nil, err
		}
		if image.Valid {
			rec.Image = &image.String
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func imageArg(rec *Record) any {
	if rec.Image == nil {
		return nil
	}
	return *rec.Image
}

// insert adds a record with a store-assigned id.
func (t *sqlTransaction) insert(rec *Record) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx, t.dialect.rebind(
		"INSERT INTO codigos (titulo, conteudo, imagem) VALUES (?, ?, ?) RETURNING id"),
		rec.Title, rec.Content, imageArg(rec)).Scan(&id)
	return id, err
}

// bumpSequence keeps the id generator ahead of an explicit id.
func (t *sqlTransaction) bumpSequence(id int64) error {
	if t.dialect.afterPut == "" {
		return nil
	}
	return t.exec(t.dialect.afterPut, id)
}

// Add inserts a record.
func (t *sqlTransaction) Add(rec *Record) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, t.fail(err)
	}
	if rec.ID < 0 {
		return 0, t.fail(fmt.Errorf("add %d: %w", rec.ID, ErrInvalidID))
	}
	if rec.ID == 0 {
		id, err := t.insert(rec)
		if err != nil {
			return 0, t.fail(fmt.Errorf("add: %w", err))
		}
		return id, nil
	}

	existing, err := t.Get(rec.ID)
	if err != nil {
		return 0, t.fail(err)
	}
	if existing != nil {
		return 0, t.fail(fmt.Errorf("add %d: %w", rec.ID, ErrExists))
	}
	if err := t.exec("INSERT INTO codigos ("+recordColumns+") VALUES (?, ?, ?, ?)",
		rec.ID, rec.Title, rec.Content, imageArg(rec)); err != nil {
		return 0, t.fail(fmt.Errorf("add %d: %w", rec.ID, err))
	}
	if err := t.bumpSequence(rec.ID); err != nil {
		return 0, t.fail(err)
	}
	return rec.ID, nil
}

// Put inserts or replaces a record.
func (t *sqlTransaction) Put(rec *Record) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, t.fail(err)
	}
	if rec.ID < 0 {
		return 0, t.fail(fmt.Errorf("put %d: %w", rec.ID, ErrInvalidID))
	}
	if rec.ID == 0 {
		id, err := t.insert(rec)
		if err != nil {
			return 0, t.fail(fmt.Errorf("put: %w", err))
		}
		return id, nil
	}

	if err := t.exec(`
		INSERT INTO codigos (`+recordColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			titulo = excluded.titulo,
			conteudo = excluded.conteudo,
			imagem = excluded.imagem`,
		rec.ID, rec.Title, rec.Content, imageArg(rec)); err != nil {
		return 0, t.fail(fmt.Errorf("put %d: %w", rec.ID, err))
	}
	if err := t.bumpSequence(rec.ID); err != nil {
		return 0, t.fail(err)
	}
	return rec.ID, nil
}

// Get returns a record by id.
func (t *sqlTransaction) Get(id int64) (*Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	records, err := t.queryRecords("SELECT "+recordColumns+" FROM codigos WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Delete removes a record.
func (t *sqlTransaction) Delete(id int64) error {
	if err := t.writable(); err != nil {
		return t.fail(err)
	}
	if err := t.exec("DELETE FROM codigos WHERE id = ?", id); err != nil {
		return t.fail(fmt.Errorf("delete %d: %w", id, err))
	}
	return nil
}

// Cursor iterates records in ascending id order.
func (t *sqlTransaction) Cursor(fn func(*Record) error) error {
	if t.done {
		return ErrTxDone
	}
	records, err := t.queryRecords("SELECT " + recordColumns + " FROM codigos ORDER BY id")
	if err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			if err == ErrStopCursor {
				return nil
			}
			return err
		}
	}
	return nil
}

// Lookup reads through a secondary index. The index name is checked against
// the fixed list before it reaches the query.
func (t *sqlTransaction) Lookup(index, value string) ([]*Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if !validIndex(index) {
		return nil, fmt.Errorf("unknown index %q", index)
	}
	records, err := t.queryRecords("SELECT "+recordColumns+" FROM codigos WHERE "+index+" = ? ORDER BY id", value)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", index, err)
	}
	return records, nil
}

// Count returns the number of records.
func (t *sqlTransaction) Count() (int, error) {
	if t.done {
		return 0, ErrTxDone
	}
	var count int
	if err := t.tx.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM codigos").Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Commit completes the transaction, or rolls it back if a write failed.
func (t *sqlTransaction) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.failed != nil {
		t.tx.Rollback()
		return fmt.Errorf("transaction aborted: %w", t.failed)
	}
	return t.tx.Commit()
}

// Rollback cancels the transaction.
func (t *sqlTransaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
