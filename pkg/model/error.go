package model

import (
	"fmt"
	"time"
)

// CircuitOpenError rejects a load while the breaker cooldown is running.
// The provider is never touched for these.
type CircuitOpenError struct {
	RetryIn time.Duration
}

func (e CircuitOpenError) Error() string {
	return fmt.Sprintf("model loading temporarily paused, retry in %ds", int(e.RetryIn.Seconds())+1)
}

// NotLoadedError is returned when generation is requested with no model ready.
type NotLoadedError struct{}

func (e NotLoadedError) Error() string {
	return "no model loaded"
}

// LoadError wraps a failed model load, preserving the cause.
type LoadError struct {
	ModelID string
	Cause   error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("loading model %s: %v", e.ModelID, e.Cause)
}

func (e LoadError) Unwrap() error {
	return e.Cause
}

// CanceledError reports a load that was canceled by unload or supersession.
// Callers swallow these rather than surfacing them to the user.
type CanceledError struct {
	ModelID string
}

func (e CanceledError) Error() string {
	return "model load canceled: " + e.ModelID
}
