package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/storage"
)

// Extract asks the inference provider for candidate facts from the trailing
// conversation window and ingests each valid one. Returns the facts that
// resulted (merged, replaced, or inserted).
//
// Fewer than two messages is a skip, not an error: nothing durable can be
// extracted from a single turn, and the provider is never called.
func (e *Engine) Extract(ctx context.Context, conversationID string, messages []chat.Message) ([]Fact, error) {
	if len(messages) < 2 {
		return nil, nil
	}

	window := messages
	if len(window) > e.config.ExtractionWindow {
		window = window[len(window)-e.config.ExtractionWindow:]
	}

	candidates, err := e.provider.ExtractFacts(ctx, window, e.config.MinConfidence)
	if err != nil {
		return nil, ExtractionError{Cause: err}
	}

	var out []Fact
	for _, c := range candidates {
		if reason := rejectCandidate(c, e.config.MinConfidence); reason != "" {
			e.logger.Debug("rejecting extraction candidate",
				zap.String("text", c.Text),
				zap.String("reason", reason),
			)
			continue
		}

		fact, err := e.Ingest(ctx, conversationID, c)
		if err != nil {
			return out, err
		}
		out = append(out, *fact)
	}

	// Maintenance runs after every successful write batch. A failed sweep
	// doesn't invalidate the facts that were just stored.
	if len(out) > 0 {
		if _, err := e.Maintain(ctx); err != nil {
			e.logger.Warn("post-extraction maintenance failed", zap.Error(err))
		}
	}

	return out, nil
}

// rejectCandidate returns a non-empty reason when the candidate is malformed
// or below the confidence floor.
func rejectCandidate(c inference.Candidate, minConfidence float64) string {
	if strings.TrimSpace(c.Text) == "" {
		return "empty text"
	}
	if !Category(c.Category).Valid() {
		return "invalid category"
	}
	if c.Confidence != c.Confidence { // NaN
		return "non-numeric confidence"
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return "confidence out of range"
	}
	if c.Confidence < minConfidence {
		return "below confidence threshold"
	}
	return ""
}

// Ingest reconciles one candidate against the stored fact set inside a
// single transaction, so a consumer never observes a fact deleted without
// its replacement present.
//
// Resolution order: exact normalized-text duplicate merges; otherwise a
// candidate marked updates_previous replaces the most recent same-category
// fact; otherwise it inserts as new.
func (e *Engine) Ingest(ctx context.Context, conversationID string, c inference.Candidate) (*Fact, error) {
	now := e.now()
	var result *Fact

	err := e.store.RunTransaction(ctx, func(tx storage.Tx) error {
		facts, err := loadFactsTx(tx)
		if err != nil {
			return err
		}

		// Merge path: exact duplicate after normalization.
		normalized := NormalizeText(c.Text)
		for i := range facts {
			if NormalizeText(facts[i].Text) != normalized {
				continue
			}

			merged := facts[i]
			merged.Confidence = min(1, max(merged.Confidence, c.Confidence)+e.config.MergeBoost)
			merged.MentionCount++
			merged.LastSeen = now
			merged.LastSeenConversationID = conversationID
			merged.Category = Category(c.Category)

			e.logger.Debug("merged duplicate fact",
				zap.String("fact_id", merged.ID),
				zap.Int("mention_count", merged.MentionCount),
			)

			result = &merged
			return putFactTx(tx, &merged)
		}

		// Replace path: a contradiction supersedes the most recently seen
		// fact of the same category. Confidence resets to the baseline; a
		// contradiction should not inherit unwarranted certainty.
		if c.UpdatesPrevious {
			var prev *Fact
			for i := range facts {
				if facts[i].Category != Category(c.Category) {
					continue
				}
				if prev == nil || facts[i].LastSeen.After(prev.LastSeen) {
					prev = &facts[i]
				}
			}

			if prev != nil {
				replacement := Fact{
					ID:                     newFactID(),
					Text:                   strings.TrimSpace(c.Text),
					Category:               Category(c.Category),
					Confidence:             e.config.ReplaceBaseline,
					MentionCount:           1,
					FirstSeen:              now,
					LastSeen:               now,
					LastSeenConversationID: conversationID,
					Pinned:                 prev.Pinned,
					UpdatesFactID:          prev.ID,
				}

				if err := tx.Delete(factPrefix + prev.ID); err != nil {
					return err
				}

				e.logger.Debug("replaced contradicted fact",
					zap.String("old_fact_id", prev.ID),
					zap.String("new_fact_id", replacement.ID),
				)

				result = &replacement
				return putFactTx(tx, &replacement)
			}
		}

		// Insert path.
		fact := Fact{
			ID:                     newFactID(),
			Text:                   strings.TrimSpace(c.Text),
			Category:               Category(c.Category),
			Confidence:             c.Confidence,
			MentionCount:           1,
			FirstSeen:              now,
			LastSeen:               now,
			LastSeenConversationID: conversationID,
		}

		result = &fact
		return putFactTx(tx, &fact)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
