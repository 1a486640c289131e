package storage

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to users. Test with errors.Is.
var (
	ErrStoreOpen = errors.New("database could not be opened")
	ErrWrite     = errors.New("write rejected")
	ErrRead      = errors.New("read rejected")
	ErrParse     = errors.New("invalid JSON")
)

// Engine-level errors.
var (
	ErrReadOnly    = errors.New("transaction is read-only")
	ErrExists      = errors.New("key already exists")
	ErrInvalidID   = errors.New("id must be positive")
	ErrTxDone      = errors.New("transaction already finished")
	ErrClosed      = errors.New("storage is closed")
	ErrStopCursor  = errors.New("stop cursor")
	ErrUnknownType = errors.New("unknown storage type")
)

// Kind classifies an Error.
type Kind int

const (
	KindOpen Kind = iota + 1
	KindWrite
	KindRead
	KindParse
)

func (k Kind) sentinel() error {
	switch k {
	case KindOpen:
		return ErrStoreOpen
	case KindWrite:
		return ErrWrite
	case KindRead:
		return ErrRead
	case KindParse:
		return ErrParse
	}
	return nil
}

// Error is an operation failure with its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind.sentinel(), e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// OpenError wraps err as a StoreOpenError.
func OpenError(op string, err error) error { return wrap(KindOpen, op, err) }

// WriteError wraps err as a WriteError.
func WriteError(op string, err error) error { return wrap(KindWrite, op, err) }

// ReadError wraps err as a ReadError.
func ReadError(op string, err error) error { return wrap(KindRead, op, err) }

// ParseError wraps err as a ParseError.
func ParseError(op string, err error) error { return wrap(KindParse, op, err) }
