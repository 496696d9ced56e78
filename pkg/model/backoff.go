package model

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/papercomputeco/recall/pkg/inference"
)

const (
	backoffBase   = 300 * time.Millisecond
	backoffMax    = 3 * time.Second
	backoffJitter = 150 * time.Millisecond
)

// backoffDelay computes the wait before retry attempt n (0-based):
// min(3000, 300 * 2^attempt) ms plus up to 150ms of jitter.
func backoffDelay(attempt int, jitter func() time.Duration) time.Duration {
	delay := backoffBase << attempt
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	return delay + jitter()
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(backoffJitter)))
}

// retryable classifies load errors. Malformed model ids and cancellations
// fail immediately without consuming retry budget; everything else from the
// provider is assumed transient.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.As(err, &inference.InvalidModelError{}) {
		return false
	}
	return true
}
