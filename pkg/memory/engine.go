// Package memory extracts, stores, scores, and budgets durable facts about
// the user.
//
// Facts arrive from LLM extraction or manual entry and are reconciled in a
// single store transaction per fact: exact duplicates merge, contradictions
// replace, everything else inserts. Selection for prompt injection is
// token-budgeted and deterministic; maintenance sweeps expire stale facts and
// evict past the capacity cap. Pinned facts are exempt from both.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/storage"
)

const factPrefix = "fact/"

// Config holds the memory engine's tunables.
type Config struct {
	// MinConfidence drops extraction candidates below this threshold.
	MinConfidence float64

	// MergeBoost is added to the higher confidence when a duplicate merges.
	MergeBoost float64

	// ReplaceBaseline is the confidence a replacing fact starts at. A
	// contradiction does not inherit the certainty of what it contradicts.
	ReplaceBaseline float64

	// ExtractionWindow is how many trailing messages extraction sees.
	ExtractionWindow int

	// PruneThreshold is the fact count that triggers capacity eviction.
	PruneThreshold int

	// HardCap is the non-pinned fact count eviction reduces to.
	HardCap int

	// MaxPinned caps concurrently pinned facts.
	MaxPinned int

	// OutputReserve is the token head-room reserved for the model's reply
	// when computing the injection budget.
	OutputReserve int

	// SafetyMargin is subtracted from the budget during greedy selection.
	SafetyMargin int

	// CompactionThreshold is the context-usage ratio that triggers staged
	// compaction.
	CompactionThreshold float64

	// TTLs by category. Non-pinned facts older than their TTL (since last
	// seen) expire during maintenance.
	ProjectTTL    time.Duration
	PreferenceTTL time.Duration
	IdentityTTL   time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.75,
		MergeBoost:          0.15,
		ReplaceBaseline:     0.75,
		ExtractionWindow:    10,
		PruneThreshold:      120,
		HardCap:             150,
		MaxPinned:           10,
		OutputReserve:       1000,
		SafetyMargin:        50,
		CompactionThreshold: 0.8,
		ProjectTTL:          60 * 24 * time.Hour,
		PreferenceTTL:       180 * 24 * time.Hour,
		IdentityTTL:         365 * 24 * time.Hour,
	}
}

// Engine is the memory-fact engine.
type Engine struct {
	store    storage.Driver
	provider inference.Provider
	logger   *zap.Logger
	config   Config
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a memory engine over the given store and provider.
func NewEngine(store storage.Driver, provider inference.Provider, logger *zap.Logger, config Config, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		provider: provider,
		logger:   logger,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List returns all facts ordered by last seen, newest first.
func (e *Engine) List(ctx context.Context) ([]Fact, error) {
	facts, err := e.loadFacts(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(facts, func(i, j int) bool {
		if !facts[i].LastSeen.Equal(facts[j].LastSeen) {
			return facts[i].LastSeen.After(facts[j].LastSeen)
		}
		return facts[i].ID < facts[j].ID
	})
	return facts, nil
}

// Count returns the total number of stored facts.
func (e *Engine) Count(ctx context.Context) (int, error) {
	recs, err := e.store.List(ctx, factPrefix)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Get retrieves a fact by id.
func (e *Engine) Get(ctx context.Context, id string) (*Fact, error) {
	rec, err := e.store.Get(ctx, factPrefix+id)
	if err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return nil, NotFoundError{ID: id}
		}
		return nil, err
	}
	fact := &Fact{}
	if err := json.Unmarshal(rec.Data, fact); err != nil {
		return nil, fmt.Errorf("decoding fact %s: %w", id, err)
	}
	return fact, nil
}

// Add records a manually-entered fact. Manual entries start at full
// confidence and go through the same dedup path as extracted candidates.
func (e *Engine) Add(ctx context.Context, conversationID, text string, category Category) (*Fact, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}
	if NormalizeText(text) == "" {
		return nil, errors.New("fact text is empty")
	}

	return e.Ingest(ctx, conversationID, inference.Candidate{
		Text:       text,
		Category:   string(category),
		Confidence: 1.0,
	})
}

// Pin marks a fact exempt from expiry and eviction. Rejected once MaxPinned
// facts are already pinned; the pinned set is left unchanged.
func (e *Engine) Pin(ctx context.Context, id string) error {
	return e.store.RunTransaction(ctx, func(tx storage.Tx) error {
		facts, err := loadFactsTx(tx)
		if err != nil {
			return err
		}

		pinned := 0
		var target *Fact
		for i := range facts {
			if facts[i].Pinned {
				pinned++
			}
			if facts[i].ID == id {
				target = &facts[i]
			}
		}

		if target == nil {
			return NotFoundError{ID: id}
		}
		if target.Pinned {
			return nil
		}
		if pinned >= e.config.MaxPinned {
			return PinLimitError{Limit: e.config.MaxPinned}
		}

		target.Pinned = true
		return putFactTx(tx, target)
	})
}

// Unpin clears a fact's pinned flag.
func (e *Engine) Unpin(ctx context.Context, id string) error {
	return e.store.RunTransaction(ctx, func(tx storage.Tx) error {
		fact, err := getFactTx(tx, id)
		if err != nil {
			return err
		}
		if !fact.Pinned {
			return nil
		}
		fact.Pinned = false
		return putFactTx(tx, fact)
	})
}

// Forget deletes a fact by user action.
func (e *Engine) Forget(ctx context.Context, id string) error {
	return e.store.Delete(ctx, factPrefix+id)
}

// loadFacts reads and decodes every stored fact.
func (e *Engine) loadFacts(ctx context.Context) ([]Fact, error) {
	recs, err := e.store.List(ctx, factPrefix)
	if err != nil {
		return nil, err
	}

	facts := make([]Fact, 0, len(recs))
	for _, rec := range recs {
		fact := Fact{}
		if err := json.Unmarshal(rec.Data, &fact); err != nil {
			e.logger.Warn("skipping undecodable fact record",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func loadFactsTx(tx storage.Tx) ([]Fact, error) {
	recs, err := tx.List(factPrefix)
	if err != nil {
		return nil, err
	}

	facts := make([]Fact, 0, len(recs))
	for _, rec := range recs {
		fact := Fact{}
		if err := json.Unmarshal(rec.Data, &fact); err != nil {
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func getFactTx(tx storage.Tx, id string) (*Fact, error) {
	rec, err := tx.Get(factPrefix + id)
	if err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return nil, NotFoundError{ID: id}
		}
		return nil, err
	}
	fact := &Fact{}
	if err := json.Unmarshal(rec.Data, fact); err != nil {
		return nil, fmt.Errorf("decoding fact %s: %w", id, err)
	}
	return fact, nil
}

func putFactTx(tx storage.Tx, fact *Fact) error {
	data, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("encoding fact %s: %w", fact.ID, err)
	}
	return tx.Put(&storage.Record{ID: factPrefix + fact.ID, Data: data})
}

func newFactID() string {
	return uuid.NewString()
}

func estimateTokens(s string) int {
	return chat.EstimateTokens(s)
}
