package store

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by every backend. Match them with errors.Is.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the backend cannot be reached:
	// an unreadable document or an unopenable database.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConstraintViolation is returned for uniqueness, foreign-key and
	// not-null failures at write time. It must never be retried.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConversion is returned when a record field cannot be coerced
	// to its target type.
	ErrConversion = errors.New("conversion error")

	// ErrVerificationMismatch is returned when source and destination
	// disagree after a migration.
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrAlreadyMigrated is returned when the migration target already
	// holds data and overwriting was not requested.
	ErrAlreadyMigrated = errors.New("already migrated")

	// ErrStorage covers any other backend failure.
	ErrStorage = errors.New("storage failure")
)

var kinds = []error{
	ErrNotFound,
	ErrStorageUnavailable,
	ErrConstraintViolation,
	ErrConversion,
	ErrVerificationMismatch,
	ErrAlreadyMigrated,
	ErrStorage,
}

// Mode names a backend implementation.
type Mode string

const (
	ModeFile       Mode = "file"
	ModeRelational Mode = "relational"
)

// Error is the typed storage error returned by backends and the Facade.
// It hides driver-specific error shapes behind one of the kind sentinels.
type Error struct {
	Kind error
	Mode Mode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s store: %s: %v", e.Mode, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds a typed storage error. A cause that already carries a kind
// keeps it rather than being re-wrapped.
func E(mode Mode, op string, kind, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Mode: mode, Op: op, Err: err}
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ConversionError describes one record that could not be converted.
type ConversionError struct {
	Entity string
	Key    string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.Key, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return ErrConversion
}
