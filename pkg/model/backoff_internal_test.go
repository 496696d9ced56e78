package model

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/inference"
)

var _ = Describe("backoffDelay", func() {
	noJitter := func() time.Duration { return 0 }

	It("doubles from 300ms", func() {
		Expect(backoffDelay(0, noJitter)).To(Equal(300 * time.Millisecond))
		Expect(backoffDelay(1, noJitter)).To(Equal(600 * time.Millisecond))
		Expect(backoffDelay(2, noJitter)).To(Equal(1200 * time.Millisecond))
	})

	It("caps at 3s", func() {
		Expect(backoffDelay(4, noJitter)).To(Equal(3 * time.Second))
		Expect(backoffDelay(40, noJitter)).To(Equal(3 * time.Second))
	})

	It("adds the jitter on top", func() {
		jitter := func() time.Duration { return 100 * time.Millisecond }
		Expect(backoffDelay(0, jitter)).To(Equal(400 * time.Millisecond))
	})
})

var _ = Describe("retryable", func() {
	It("treats provider errors as transient", func() {
		Expect(retryable(errors.New("connection reset"))).To(BeTrue())
	})

	It("never retries cancellations or invalid ids", func() {
		Expect(retryable(context.Canceled)).To(BeFalse())
		Expect(retryable(context.DeadlineExceeded)).To(BeFalse())
		Expect(retryable(inference.InvalidModelError{ModelID: "x"})).To(BeFalse())
		Expect(retryable(nil)).To(BeFalse())
	})
})

var _ = Describe("breaker", func() {
	var (
		b   *breaker
		now time.Time
	)

	BeforeEach(func() {
		b = newBreaker(3, 8*time.Second)
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	It("stays closed below the failure threshold", func() {
		b.recordFailure(now)
		b.recordFailure(now)

		ok, _ := b.allow(now)
		Expect(ok).To(BeTrue())
		Expect(b.state).To(Equal(circuitClosed))
	})

	It("opens at the threshold and reports the remaining cooldown", func() {
		for i := 0; i < 3; i++ {
			b.recordFailure(now)
		}

		ok, retryIn := b.allow(now.Add(2 * time.Second))
		Expect(ok).To(BeFalse())
		Expect(retryIn).To(Equal(6 * time.Second))
	})

	It("resets the failure count on success", func() {
		b.recordFailure(now)
		b.recordFailure(now)
		b.recordSuccess()
		b.recordFailure(now)

		Expect(b.state).To(Equal(circuitClosed))
	})

	It("moves to half-open after the cooldown", func() {
		for i := 0; i < 3; i++ {
			b.recordFailure(now)
		}

		ok, _ := b.allow(now.Add(9 * time.Second))
		Expect(ok).To(BeTrue())
		Expect(b.state).To(Equal(circuitHalfOpen))
	})

	It("reopens when the half-open trial fails", func() {
		for i := 0; i < 3; i++ {
			b.recordFailure(now)
		}
		later := now.Add(9 * time.Second)
		_, _ = b.allow(later)

		b.recordFailure(later)
		ok, retryIn := b.allow(later)
		Expect(ok).To(BeFalse())
		Expect(retryIn).To(Equal(8 * time.Second))
	})

	It("closes when the half-open trial succeeds", func() {
		for i := 0; i < 3; i++ {
			b.recordFailure(now)
		}
		_, _ = b.allow(now.Add(9 * time.Second))

		b.recordSuccess()
		Expect(b.state).To(Equal(circuitClosed))
	})
})
