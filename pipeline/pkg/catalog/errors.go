package catalog

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("catalog entry not found")

// ConflictError reports a publish that raced another publish of the same table.
type ConflictError struct {
	Table  string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("catalog conflict for %s: %s", e.Table, e.Reason)
}

// Retryable marks the conflict as safe to retry after backoff.
func (e *ConflictError) Retryable() bool {
	return true
}
