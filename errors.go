package ydoc

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned when a value cannot be produced in the
	// requested form, such as a nested collection where a scalar was
	// required.
	ErrEncoding = errors.New("encoding error")
	// ErrDecoding is returned for malformed state vectors and updates.
	ErrDecoding = errors.New("decoding error")

	ErrTransactionFreed = errors.New("transaction freed")
	ErrStaleHandle      = errors.New("stale handle")
	ErrWrongDocument    = errors.New("transaction belongs to another document")
	ErrTypeMismatch     = errors.New("type mismatch")
	// ErrReadOnly is returned for writes attempted while a transaction
	// is committing, from inline observers.
	ErrReadOnly = errors.New("transaction is read only while committing")

	// ErrEmptyScope is returned for an undo manager tracking nothing.
	ErrEmptyScope = errors.New("undo scope is empty")

	ErrOutOfRange = fmt.Errorf("%w: index out of range", ErrEncoding)
	ErrNotFound   = fmt.Errorf("%w: key not found", ErrEncoding)
)
