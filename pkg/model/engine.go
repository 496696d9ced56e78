// Package model manages the lifecycle of on-device AI models: a state
// machine (idle → loading → ready/error) fed by a FIFO load queue drained by
// a single worker goroutine, guarded by a circuit breaker and per-attempt
// retry with exponential backoff.
//
// Only one model is ever being initialized at a time system-wide. Concurrent
// requests for the same model share one in-flight load; a request for a
// different model cancels and supersedes the current one. The queue is a
// single shared resource that survives conversation switches.
package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/inference"
)

var (
	defaultQueueSize        = 32
	defaultMaxAttempts      = 3
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 8 * time.Second
	defaultSubscriberBuffer = 16
)

// Engine is the model lifecycle engine. One long-lived instance owns all
// mutable lifecycle state; consumers observe it via Subscribe and Snapshot
// rather than ambient globals.
type Engine struct {
	provider inference.Provider
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	modelID string
	lastErr error
	breaker *breaker
	current *loadRequest
	pending map[string]*loadRequest
	subs    map[int]chan Event
	nextSub int
	closed  bool

	queue chan *loadRequest
	wg    sync.WaitGroup

	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
	now         func() time.Time
}

type loadRequest struct {
	modelID  string
	done     chan struct{}
	err      error
	cancel   context.CancelFunc
	canceled bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBreaker overrides the circuit breaker's failure threshold and cooldown.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(e *Engine) {
		e.breaker = newBreaker(threshold, cooldown)
	}
}

// WithMaxAttempts overrides the per-load retry budget.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithSleep overrides the backoff sleeper (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithJitter overrides the backoff jitter source (tests).
func WithJitter(jitter func() time.Duration) Option {
	return func(e *Engine) {
		e.jitter = jitter
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a lifecycle engine and starts its worker goroutine.
// Call Close during shutdown to drain and stop the worker.
func NewEngine(provider inference.Provider, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		logger:      logger,
		state:       StateIdle,
		breaker:     newBreaker(defaultBreakerThreshold, defaultBreakerCooldown),
		pending:     make(map[string]*loadRequest),
		subs:        make(map[int]chan Event),
		queue:       make(chan *loadRequest, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepCtx,
		jitter:      defaultJitter,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.worker()

	return e
}

// Load requests initialization of the given model and blocks until it
// completes, fails, or ctx is canceled. Requests for the model currently
// in flight or already queued share that load's outcome; a request for a
// different model cancels the in-flight load and supersedes it.
func (e *Engine) Load(ctx context.Context, modelID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("engine is closed")
	}

	var req *loadRequest
	switch {
	case e.current != nil && e.current.modelID == modelID && !e.current.canceled:
		req = e.current
	case e.pending[modelID] != nil:
		req = e.pending[modelID]
	default:
		if e.current != nil && e.current.modelID != modelID {
			e.cancelLocked(e.current)
		}

		req = &loadRequest{modelID: modelID, done: make(chan struct{})}
		select {
		case e.queue <- req:
			e.pending[modelID] = req
		default:
			e.mu.Unlock()
			return errors.New("load queue is full")
		}
	}
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-req.done:
		return req.err
	}
}

// Retry re-enters loading for the model that last errored.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateError || e.modelID == "" {
		e.mu.Unlock()
		return errors.New("nothing to retry")
	}
	modelID := e.modelID
	e.mu.Unlock()

	return e.Load(ctx, modelID)
}

// Unload cancels any in-flight or queued load and returns the engine to
// idle. Valid from any state.
func (e *Engine) Unload() {
	e.mu.Lock()
	if e.current != nil {
		e.cancelLocked(e.current)
	}
	for _, req := range e.pending {
		req.canceled = true
	}
	prev := e.modelID
	e.state = StateIdle
	e.modelID = ""
	e.lastErr = nil
	e.mu.Unlock()

	if prev != "" {
		e.emit(Event{ModelID: prev, State: StateIdle, Phase: PhaseCanceled})
	}
	e.logger.Info("model unloaded", zap.String("model_id", prev))
}

// Generate streams tokens from the ready model.
func (e *Engine) Generate(ctx context.Context, messages []chat.Message) (<-chan string, error) {
	e.mu.Lock()
	ready := e.state == StateReady
	e.mu.Unlock()

	if !ready {
		return nil, NotLoadedError{}
	}
	return e.provider.Generate(ctx, messages)
}

// Snapshot returns the engine's externally visible state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:   e.state,
		ModelID: e.modelID,
		Circuit: e.breaker.state,
	}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}
	return snap
}

// Subscribe registers a lifecycle event listener. The returned cancel
// function unregisters it and closes the channel. Slow subscribers drop
// events rather than blocking the engine.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, defaultSubscriberBuffer)
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// Close stops accepting loads, waits for the worker to drain, and closes
// subscriber channels.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.mu.Unlock()
}

// worker drains the load queue one request at a time.
func (e *Engine) worker() {
	defer e.wg.Done()
	for req := range e.queue {
		e.process(req)
	}
}

func (e *Engine) process(req *loadRequest) {
	e.mu.Lock()
	delete(e.pending, req.modelID)

	if req.canceled {
		e.mu.Unlock()
		e.finish(req, CanceledError{ModelID: req.modelID})
		e.emit(Event{ModelID: req.modelID, State: StateIdle, Phase: PhaseCanceled})
		return
	}

	// Circuit check happens before the provider is ever touched.
	ok, retryIn := e.breaker.allow(e.now())
	if !ok {
		err := CircuitOpenError{RetryIn: retryIn}
		e.state = StateError
		e.modelID = req.modelID
		e.lastErr = err
		e.mu.Unlock()

		e.logger.Warn("load rejected, circuit open",
			zap.String("model_id", req.modelID),
			zap.Duration("retry_in", retryIn),
		)
		e.finish(req, err)
		e.emit(Event{ModelID: req.modelID, State: StateError, Phase: PhaseFailed, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	req.cancel = cancel
	e.current = req
	e.state = StateLoading
	e.modelID = req.modelID
	e.mu.Unlock()

	defer cancel()

	e.emit(Event{ModelID: req.modelID, State: StateLoading, Phase: PhaseQueued})
	e.logger.Info("loading model", zap.String("model_id", req.modelID))

	err := e.attemptLoad(ctx, req.modelID)

	e.mu.Lock()
	if e.current == req {
		e.current = nil
	}

	switch {
	case err == nil:
		e.breaker.recordSuccess()
		e.state = StateReady
		e.lastErr = nil
		e.mu.Unlock()

		e.logger.Info("model ready", zap.String("model_id", req.modelID))
		e.finish(req, nil)
		e.emit(Event{ModelID: req.modelID, State: StateReady, Phase: PhaseReady, Progress: 100})

	case req.canceled || errors.Is(err, context.Canceled):
		// Canceled loads don't count against the breaker.
		if e.state == StateLoading && e.modelID == req.modelID {
			e.state = StateIdle
			e.modelID = ""
		}
		e.mu.Unlock()

		e.logger.Debug("model load canceled", zap.String("model_id", req.modelID))
		e.finish(req, CanceledError{ModelID: req.modelID})
		e.emit(Event{ModelID: req.modelID, State: StateIdle, Phase: PhaseCanceled})

	default:
		e.breaker.recordFailure(e.now())
		e.state = StateError
		e.lastErr = err
		e.mu.Unlock()

		e.logger.Error("model load failed",
			zap.String("model_id", req.modelID),
			zap.Error(err),
		)
		e.finish(req, LoadError{ModelID: req.modelID, Cause: err})
		e.emit(Event{ModelID: req.modelID, State: StateError, Phase: PhaseFailed, Error: err.Error()})
	}
}

// attemptLoad calls the provider with bounded retries. Non-retryable errors
// fail immediately without consuming the retry budget.
func (e *Engine) attemptLoad(ctx context.Context, modelID string) error {
	onProgress := func(p inference.Progress) {
		phase := PhaseDownloading
		switch p.Step {
		case inference.StepCompiling:
			phase = PhaseCompiling
		case inference.StepReady:
			phase = PhaseReady
		}
		e.emit(Event{ModelID: modelID, State: StateLoading, Phase: phase, Progress: p.Percentage})
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = e.provider.InitializeModel(ctx, modelID, onProgress)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < e.maxAttempts-1 {
			delay := backoffDelay(attempt, e.jitter)
			e.logger.Debug("retrying model load",
				zap.String("model_id", modelID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// cancelLocked marks a request canceled and interrupts it if running.
// Caller holds e.mu.
func (e *Engine) cancelLocked(req *loadRequest) {
	req.canceled = true
	if req.cancel != nil {
		req.cancel()
	}
}

// finish delivers the outcome to all waiters exactly once.
func (e *Engine) finish(req *loadRequest, err error) {
	req.err = err
	close(req.done)
}

// emit fans an event out to subscribers, dropping on full buffers.
func (e *Engine) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
