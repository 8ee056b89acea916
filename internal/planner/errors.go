package planner

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks errors caused by malformed find input: unknown
// fields or operators, invalid relation references, null or empty filter
// values, bad pagination. Callers can treat these as caller mistakes.
var ErrInvalidInput = errors.New("invalid find input")

// ErrQueryIntegrity marks internal invariant violations: recursion depth
// exceeded, relation metadata missing during assembly, or a multiplying
// join requested where it would corrupt results. These indicate a bug or
// inconsistent metadata, not a caller mistake.
var ErrQueryIntegrity = errors.New("query integrity violation")

// ErrNoPrimaryKey is returned when an operation requires a primary key and
// the entity has none.
var ErrNoPrimaryKey = errors.New("entity has no primary key")

func invalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func integrityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrQueryIntegrity, fmt.Sprintf(format, args...))
}
