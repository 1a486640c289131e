// Package backup exports snippets to JSON and restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"

	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/storage"
)

// Filename is the download name of an export.
const Filename = "backup_codigos.json"

// Policy controls how an import applies its records.
type Policy int

const (
	// Atomic writes every record in one transaction; any failure writes nothing.
	Atomic Policy = iota
	// Independent writes each record in its own transaction and reports
	// failures per record.
	Independent
)

func (p Policy) String() string {
	if p == Independent {
		return "independent"
	}
	return "atomic"
}

// ParsePolicy converts a policy name. The empty string is Atomic.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "atomic":
		return Atomic, nil
	case "independent":
		return Independent, nil
	}
	return Atomic, fmt.Errorf("unknown import policy %q", s)
}

// Failure is one record that could not be imported.
type Failure struct {
	Index int   // position in the document
	ID    int64 // record id from the document, 0 if none
	Err   error
}

// Report summarizes an import.
type Report struct {
	Imported int
	Failed   []Failure
}

// Service exports and imports records.
type Service struct {
	repo *repository.Repository
}

// New creates a backup service over repo.
func New(repo *repository.Repository) *Service {
	return &Service{repo: repo}
}

// Export writes every record to w as a JSON array indented with two spaces.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	records, err := s.repo.All(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return storage.ReadError("export", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// Parse decodes an export document. Anything but a JSON array of record
// objects is a ParseError.
func Parse(r io.Reader) ([]*storage.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.ParseError("import", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, storage.ParseError("import", errors.New("document is not a JSON array"))
	}

	var records []*storage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, storage.ParseError("import", err)
	}
	for i, rec := range records {
		if rec == nil {
			return nil, storage.ParseError("import", fmt.Errorf("element %d is null", i))
		}
	}
	return records, nil
}

// Import parses the whole document from r, then upserts each record by id.
// Nothing is written if the document does not parse.
func (s *Service) Import(ctx context.Context, r io.Reader, policy Policy) (Report, error) {
	records, err := Parse(r)
	if err != nil {
		return Report{}, err
	}
	if policy == Independent {
		return s.importIndependent(ctx, records)
	}
	return s.importAtomic(ctx, records)
}

func (s *Service) importAtomic(ctx context.Context, records []*storage.Record) (Report, error) {
	var report Report
	tx, err := s.repo.Backend().Begin(ctx, storage.ReadWrite)
	if err != nil {
		return report, storage.WriteError("import", err)
	}
	defer tx.Rollback()

	for i, rec := range records {
		if _, err := tx.Put(rec); err != nil {
			report.Failed = append(report.Failed, Failure{Index: i, ID: rec.ID, Err: err})
			return report, storage.WriteError("import", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return report, storage.WriteError("import", err)
	}
	report.Imported = len(records)
	return report, nil
}

func (s *Service) importIndependent(ctx context.Context, records []*storage.Record) (Report, error) {
	var report Report
	var errs error
	for i, rec := range records {
		if err := s.put(ctx, rec); err != nil {
			err = storage.WriteError(fmt.Sprintf("import record %d", i), err)
			report.Failed = append(report.Failed, Failure{Index: i, ID: rec.ID, Err: err})
			errs = multierr.Append(errs, err)
			continue
		}
		report.Imported++
	}
	return report, errs
}

func (s *Service) put(ctx context.Context, rec *storage.Record) error {
	tx, err := s.repo.Backend().Begin(ctx, storage.ReadWrite)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Put(rec); err != nil {
		return err
	}
	return tx.Commit()
}
