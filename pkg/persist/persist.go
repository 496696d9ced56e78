// Package persist provides versioned saves of conversation records with
// optimistic concurrency and idempotent replay.
//
// Every successful save bumps the record version by exactly one; a writer
// holding a stale version gets a ConflictError instead of silently
// overwriting. The conflict-retry loop (refetch latest, reapply the caller's
// mutation) is centralized in SaveWithRetry so callers only ever see
// success, conflict, or exhausted.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/storage"
)

const conversationPrefix = "conversation/"

var (
	defaultReplayTTL       = 5 * time.Second
	defaultConflictRetries = 2
)

// Saver persists conversation records against a durable store.
type Saver struct {
	store  storage.Driver
	logger *zap.Logger

	cache           *replayCache
	conflictRetries int
	now             func() time.Time
}

// Option configures a Saver.
type Option func(*Saver)

// WithReplayTTL overrides the idempotency window (default 5s).
func WithReplayTTL(ttl time.Duration) Option {
	return func(s *Saver) {
		s.cache = newReplayCache(ttl)
	}
}

// WithConflictRetries overrides the bounded refetch-and-reapply attempt
// count used by SaveWithRetry (default 2).
func WithConflictRetries(n int) Option {
	return func(s *Saver) {
		s.conflictRetries = n
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Saver) {
		s.now = now
	}
}

// NewSaver creates a Saver over the given store.
func NewSaver(store storage.Driver, logger *zap.Logger, opts ...Option) *Saver {
	s := &Saver{
		store:           store,
		logger:          logger,
		cache:           newReplayCache(defaultReplayTTL),
		conflictRetries: defaultConflictRetries,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveResult is the outcome of a successful save.
type SaveResult struct {
	// Conversation is the stored record, including its new version.
	Conversation *chat.Conversation

	// Replayed is true when the result came from the idempotency cache
	// without touching the store. Callers treat replays as success.
	Replayed bool
}

// SaveOption configures a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey marks the save as a logically-identical repeat request.
// A second save with the same key within the TTL window returns the first
// result without incrementing the version again.
func WithIdempotencyKey(key string) SaveOption {
	return func(o *saveOptions) {
		o.idempotencyKey = key
	}
}

// Save atomically writes conv at version expectedVersion+1.
//
// If the stored version differs from expectedVersion the save fails with
// ConflictError carrying both versions. The stored CreatedAt is always
// preserved; on first save (expectedVersion 0, no stored record) CreatedAt
// is stamped with the current time.
func (s *Saver) Save(ctx context.Context, conv *chat.Conversation, expectedVersion int64, opts ...SaveOption) (*SaveResult, error) {
	if conv == nil || conv.ID == "" {
		return nil, errors.New("cannot save conversation without an id")
	}
	if expectedVersion < 0 {
		return nil, fmt.Errorf("expected version must be non-negative, got %d", expectedVersion)
	}

	options := saveOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	now := s.now()
	if options.idempotencyKey != "" {
		if cached, ok := s.cache.lookup(conv.ID, options.idempotencyKey, now); ok {
			s.logger.Debug("replaying idempotent save",
				zap.String("conversation_id", conv.ID),
				zap.String("idempotency_key", options.idempotencyKey),
			)
			cached.Replayed = true
			return cached, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := conv.Clone()
	err := s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		current, err := tx.Get(conversationPrefix + conv.ID)
		actualVersion := int64(0)
		var createdAt time.Time

		switch {
		case err == nil:
			existing := &chat.Conversation{}
			if jsonErr := json.Unmarshal(current.Data, existing); jsonErr != nil {
				return fmt.Errorf("decoding stored conversation %s: %w", conv.ID, jsonErr)
			}
			actualVersion = existing.Version
			createdAt = existing.CreatedAt
		case errors.As(err, &storage.NotFoundError{}):
			// First save: version 0, CreatedAt stamped below.
		default:
			return err
		}

		if actualVersion != expectedVersion {
			return ConflictError{ID: conv.ID, Expected: expectedVersion, Actual: actualVersion}
		}

		stored.Version = expectedVersion + 1
		stored.UpdatedAt = now
		if createdAt.IsZero() {
			createdAt = now
		}
		stored.CreatedAt = createdAt

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
		}

		return tx.Put(&storage.Record{ID: conversationPrefix + conv.ID, Data: data})
	})
	if err != nil {
		return nil, err
	}

	result := SaveResult{Conversation: stored}
	if options.idempotencyKey != "" {
		s.cache.remember(conv.ID, options.idempotencyKey, result, now)
	}

	s.logger.Debug("conversation saved",
		zap.String("conversation_id", conv.ID),
		zap.Int64("version", stored.Version),
	)

	return &result, nil
}

// SaveWithRetry fetches the conversation, applies mutate, and saves at the
// fetched version, retrying the whole cycle on conflict up to the configured
// attempt bound. When no record exists yet, mutate receives a fresh
// version-0 conversation with the given id.
func (s *Saver) SaveWithRetry(ctx context.Context, id string, mutate func(conv *chat.Conversation) error, opts ...SaveOption) (*SaveResult, error) {
	var lastConflict ConflictError
	attempts := s.conflictRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conv, err := s.Get(ctx, id)
		if err != nil {
			if !errors.As(err, &storage.NotFoundError{}) {
				return nil, err
			}
			conv = &chat.Conversation{ID: id}
		}

		if err := mutate(conv); err != nil {
			return nil, err
		}

		result, err := s.Save(ctx, conv, conv.Version, opts...)
		if err == nil {
			return result, nil
		}
		if !errors.As(err, &lastConflict) {
			return nil, err
		}

		s.logger.Debug("save conflict, refetching",
			zap.String("conversation_id", id),
			zap.Int("attempt", attempt+1),
			zap.Int64("expected", lastConflict.Expected),
			zap.Int64("actual", lastConflict.Actual),
		)
	}

	return nil, ExhaustedError{Attempts: attempts, Conflict: lastConflict}
}

// Get retrieves a conversation by id.
func (s *Saver) Get(ctx context.Context, id string) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.store.Get(ctx, conversationPrefix+id)
	if err != nil {
		var nf storage.NotFoundError
		if errors.As(err, &nf) {
			return nil, storage.NotFoundError{ID: id}
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conv := &chat.Conversation{}
	if err := json.Unmarshal(rec.Data, conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return conv, nil
}

// Delete removes a conversation by id.
func (s *Saver) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, conversationPrefix+id); err != nil {
		return err
	}
	return ctx.Err()
}

// List returns all stored conversations ordered by id.
func (s *Saver) List(ctx context.Context) ([]*chat.Conversation, error) {
	recs, err := s.store.List(ctx, conversationPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]*chat.Conversation, 0, len(recs))
	for _, rec := range recs {
		conv := &chat.Conversation{}
		if err := json.Unmarshal(rec.Data, conv); err != nil {
			s.logger.Warn("skipping undecodable conversation record",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}
