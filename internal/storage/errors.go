// Package storage defines the contracts of the stores behind the tiered
// pipeline and the error taxonomy every backend maps its failures to.
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is a transport failure or timeout talking to a store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned by a commit whose revision precondition is stale.
	ErrConflict = errors.New("revision conflict")
	// ErrNotFound is returned when a language, document, key or record is absent.
	ErrNotFound = errors.New("not found")
	// ErrMalformed is returned for unparseable data or invalid input.
	ErrMalformed = errors.New("malformed")
	// ErrCorrupt marks stored data that failed to decode. It is always
	// returned alongside ErrMalformed.
	ErrCorrupt = errors.New("corrupt stored data")
)

var taxonomy = []error{ErrUnavailable, ErrConflict, ErrNotFound, ErrMalformed}

// Classified reports whether err already wraps one of the taxonomy errors.
func Classified(err error) bool {
	for _, e := range taxonomy {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Unavailable wraps err as ErrUnavailable unless it is already classified.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Malformedf returns an ErrMalformed with a formatted explanation.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Corrupt marks err, a decode failure of data read back from a store, as
// ErrCorrupt. err keeps matching ErrMalformed.
func Corrupt(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMalformed) {
		return fmt.Errorf("%s: %w: %w", op, ErrCorrupt, err)
	}
	return fmt.Errorf("%s: %w: %w: %w", op, ErrCorrupt, ErrMalformed, err)
}

// NotFoundf returns an ErrNotFound with a formatted explanation.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
