// Package domain holds outcomes shared by every domain package.
package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrConflict reports a lost commit-time race: a uniqueness violation,
// serialization failure or timeout. Callers resubmit with the same
// idempotency key instead of retrying blindly.
var ErrConflict = errors.New("conflict")

// ValidationError indicates malformed discount or criteria configuration,
// rejected when a coupon is authored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand for building a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
