package incident

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks transient store failures. Callers must treat
// the submission as retryable; the alert is never silently dropped.
var ErrStoreUnavailable = errors.New("record store unavailable")

// ErrNotFound is returned when the referenced alert or incident does not exist.
var ErrNotFound = errors.New("not found")

// InvalidTransitionError rejects a lifecycle action the status machine does
// not permit. It names the current state so callers can distinguish
// "already satisfied" from "structurally invalid".
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("incident %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
