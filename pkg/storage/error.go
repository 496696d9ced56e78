package storage

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "record not found"
	}

	return "record not found: " + e.ID
}

// QuotaError is returned when the backend rejects a write for lack of space.
// Callers surface these with actionable guidance rather than dropping them.
type QuotaError struct {
	Cause error
}

func (e QuotaError) Error() string {
	if e.Cause == nil {
		return "storage quota exceeded"
	}
	return "storage quota exceeded: " + e.Cause.Error()
}

func (e QuotaError) Unwrap() error {
	return e.Cause
}
