package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain failure. Adapters map kinds to transport codes.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidState      ErrorKind = "INVALID_STATE"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindConflict          ErrorKind = "CONFLICT"
)

// Error is the typed failure returned by every core operation that rejects input
// or state. Anything else returned from core is an infrastructure error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target with a message must
// also match that message, so the bare sentinels below match any error of
// their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrConflict          = &Error{Kind: KindConflict}
)

// Errorf builds an *Error of the given kind. A %w verb in format is honoured.
func Errorf(kind ErrorKind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func validationErrorf(format string, args ...any) error {
	return Errorf(KindValidation, format, args...)
}

func notFoundErrorf(format string, args ...any) error {
	return Errorf(KindNotFound, format, args...)
}

func invalidStateErrorf(format string, args ...any) error {
	return Errorf(KindInvalidState, format, args...)
}

func conflictErrorf(format string, args ...any) error {
	return Errorf(KindConflict, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not a domain error.
func KindOf(err error) ErrorKind {
	var short *InsufficientStockError
	if errors.As(err, &short) {
		return KindInsufficientStock
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// InsufficientStockError carries the shortfall that made a posting fail.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Requested   string
	Available   string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d at warehouse %d: requested %s, free to use %s",
		e.ProductID, e.WarehouseID, e.Requested, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientStock) succeed.
func (e *InsufficientStockError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindInsufficientStock && t.Message == ""
}
