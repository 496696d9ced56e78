package persist

import "fmt"

// ConflictError is returned when a save's expected version doesn't match the
// stored version. Retryable: refetch the latest record and reapply the
// intended mutation (SaveWithRetry does this automatically).
type ConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, actual %d", e.ID, e.Expected, e.Actual)
}

// ExhaustedError is returned when the bounded conflict-retry loop runs out of
// attempts. It carries the final conflict for diagnostics.
type ExhaustedError struct {
	Attempts int
	Conflict ConflictError
}

func (e ExhaustedError) Error() string {
	return fmt.Sprintf("save failed after %d attempts: %s", e.Attempts, e.Conflict.Error())
}

func (e ExhaustedError) Unwrap() error {
	return e.Conflict
}
