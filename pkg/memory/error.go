package memory

import "fmt"

// ExtractionError wraps a failed fact-extraction call. The original cause is
// preserved for diagnostics; callers show the message.
type ExtractionError struct {
	Cause error
}

func (e ExtractionError) Error() string {
	return "fact extraction failed: " + e.Cause.Error()
}

func (e ExtractionError) Unwrap() error {
	return e.Cause
}

// PinLimitError is returned when pinning would exceed the pinned-fact cap.
type PinLimitError struct {
	Limit int
}

func (e PinLimitError) Error() string {
	return fmt.Sprintf("cannot pin: %d facts are already pinned", e.Limit)
}

// NotFoundError is returned when a fact id doesn't exist.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "fact not found: " + e.ID
}
