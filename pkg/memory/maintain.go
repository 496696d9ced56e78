package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/storage"
)

// Eviction weights by category. Lower weight means longer-lived.
const (
	evictWeightProject    = 0.8
	evictWeightPreference = 0.3
	evictWeightIdentity   = 0.5

	minEvictConfidence = 0.01
)

// Maintain runs expiry and capacity eviction. Call after every successful
// write. The context is checked before each step so cancellation lands
// between sweeps, never mid-transaction.
//
// Pinned facts are never touched by either path.
func (e *Engine) Maintain(ctx context.Context) (removed int, err error) {
	expired, err := e.expire(ctx)
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return expired, err
	}

	evicted, err := e.evict(ctx)
	if err != nil {
		return expired, err
	}

	if total := expired + evicted; total > 0 {
		e.logger.Info("memory maintenance",
			zap.Int("expired", expired),
			zap.Int("evicted", evicted),
		)
	}
	return expired + evicted, nil
}

// expire deletes non-pinned facts whose age since last seen exceeds their
// category TTL.
func (e *Engine) expire(ctx context.Context) (int, error) {
	now := e.now()
	removed := 0

	err := e.store.RunTransaction(ctx, func(tx storage.Tx) error {
		facts, err := loadFactsTx(tx)
		if err != nil {
			return err
		}

		for i := range facts {
			if facts[i].Pinned {
				continue
			}
			if now.Sub(facts[i].LastSeen) <= e.categoryTTL(facts[i].Category) {
				continue
			}
			if err := tx.Delete(factPrefix + facts[i].ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// evict reduces the fact count back to the hard cap once it crosses the
// prune threshold, deleting the worst-scoring non-pinned facts first.
func (e *Engine) evict(ctx context.Context) (int, error) {
	removed := 0

	err := e.store.RunTransaction(ctx, func(tx storage.Tx) error {
		facts, err := loadFactsTx(tx)
		if err != nil {
			return err
		}
		if len(facts) <= e.config.PruneThreshold {
			return nil
		}

		now := e.now()
		var evictable []Fact
		for _, f := range facts {
			if !f.Pinned {
				evictable = append(evictable, f)
			}
		}

		// Highest eviction score goes first: old, low-confidence,
		// high-weight facts. Ties break by older lastSeen, then id, so
		// maintenance is deterministic.
		sort.Slice(evictable, func(i, j int) bool {
			si, sj := evictionScore(&evictable[i], now), evictionScore(&evictable[j], now)
			if si != sj {
				return si > sj
			}
			if !evictable[i].LastSeen.Equal(evictable[j].LastSeen) {
				return evictable[i].LastSeen.Before(evictable[j].LastSeen)
			}
			return evictable[i].ID < evictable[j].ID
		})

		for _, f := range evictable {
			if len(facts)-removed <= e.config.HardCap {
				break
			}
			if err := tx.Delete(factPrefix + f.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// evictionScore ranks a fact for removal: ageInDays * categoryWeight /
// max(confidence, 0.01).
func evictionScore(f *Fact, now time.Time) float64 {
	ageDays := now.Sub(f.LastSeen).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return ageDays * evictionWeight(f.Category) / max(f.Confidence, minEvictConfidence)
}

func evictionWeight(c Category) float64 {
	switch c {
	case CategoryProject:
		return evictWeightProject
	case CategoryPreference:
		return evictWeightPreference
	case CategoryIdentity:
		return evictWeightIdentity
	}
	return 1
}

func (e *Engine) categoryTTL(c Category) time.Duration {
	switch c {
	case CategoryProject:
		return e.config.ProjectTTL
	case CategoryPreference:
		return e.config.PreferenceTTL
	case CategoryIdentity:
		return e.config.IdentityTTL
	}
	return e.config.IdentityTTL
}
