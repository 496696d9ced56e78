package memory

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
)

// History trim bounds for stage-1 compaction.
const (
	keepHead = 2
	keepTail = 6
)

// CompactionInput describes the context being fitted into the window.
type CompactionInput struct {
	Messages      []chat.Message
	ContextWindow int

	// UserMessage feeds keyword relevance during re-selection.
	UserMessage string
}

// CompactionResult is the (possibly reduced) context after compaction.
type CompactionResult struct {
	Messages []chat.Message
	Facts    []Fact

	// Stage is 0 (no compaction needed), 1, or 2.
	Stage int

	TokensBefore int
	TokensAfter  int
}

// Compact applies staged context reduction once conversation plus injected
// memory reaches the usage threshold.
//
// Stage 1 trims history to the first two and last six messages. Stage 2
// additionally shrinks the memory candidate pool to pinned facts, project
// facts, and the top half of high-confidence preference facts before
// re-running budgeted selection. The threshold is soft: if both stages still
// overflow, the maximally reduced context is returned rather than an error.
func (e *Engine) Compact(ctx context.Context, in CompactionInput) (*CompactionResult, error) {
	facts, err := e.loadFacts(ctx)
	if err != nil {
		return nil, err
	}

	query := func(msgs []chat.Message) SelectionQuery {
		return SelectionQuery{
			ContextWindow:      in.ContextWindow,
			ConversationTokens: chat.EstimateMessageTokens(msgs),
			UserMessage:        in.UserMessage,
		}
	}

	sel := e.selectFrom(append([]Fact(nil), facts...), query(in.Messages))
	before := chat.EstimateMessageTokens(in.Messages) + sel.TokensUsed

	result := &CompactionResult{
		Messages:     in.Messages,
		Facts:        sel.Facts,
		TokensBefore: before,
		TokensAfter:  before,
	}

	if !e.overThreshold(before, in.ContextWindow) {
		return result, nil
	}

	// Stage 1: trim conversation history, then re-measure.
	trimmed := trimHistory(in.Messages)
	sel = e.selectFrom(append([]Fact(nil), facts...), query(trimmed))
	after := chat.EstimateMessageTokens(trimmed) + sel.TokensUsed

	result.Messages = trimmed
	result.Facts = sel.Facts
	result.Stage = 1
	result.TokensAfter = after

	e.logger.Debug("compaction stage 1",
		zap.Int("messages", len(trimmed)),
		zap.Int("tokens_before", before),
		zap.Int("tokens_after", after),
	)

	if !e.overThreshold(after, in.ContextWindow) {
		return result, nil
	}

	// Stage 2: reduce the memory pool and re-select against the trimmed
	// conversation.
	pool := reducePool(facts)
	sel = e.selectFrom(pool, query(trimmed))
	after = chat.EstimateMessageTokens(trimmed) + sel.TokensUsed

	result.Facts = sel.Facts
	result.Stage = 2
	result.TokensAfter = after

	e.logger.Debug("compaction stage 2",
		zap.Int("pool_size", len(pool)),
		zap.Int("tokens_after", after),
	)

	// Soft limit: proceed with the maximally reduced context even if still
	// over threshold.
	return result, nil
}

func (e *Engine) overThreshold(tokens, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(tokens)/float64(contextWindow) >= e.config.CompactionThreshold
}

// trimHistory keeps the first two and last six messages, deduplicating the
// overlap when the conversation is short.
func trimHistory(msgs []chat.Message) []chat.Message {
	if len(msgs) <= keepHead+keepTail {
		return msgs
	}

	out := make([]chat.Message, 0, keepHead+keepTail)
	out = append(out, msgs[:keepHead]...)
	out = append(out, msgs[len(msgs)-keepTail:]...)
	return out
}

// reducePool keeps pinned facts, all project facts, and the top half (by
// confidence then recency) of preference facts with confidence above 0.8.
func reducePool(facts []Fact) []Fact {
	var out []Fact
	var preferences []Fact

	for _, f := range facts {
		switch {
		case f.Pinned, f.Category == CategoryProject:
			out = append(out, f)
		case f.Category == CategoryPreference && f.Confidence > 0.8:
			preferences = append(preferences, f)
		}
	}

	sort.Slice(preferences, func(i, j int) bool {
		if preferences[i].Confidence != preferences[j].Confidence {
			return preferences[i].Confidence > preferences[j].Confidence
		}
		return preferences[i].LastSeen.After(preferences[j].LastSeen)
	})

	out = append(out, preferences[:(len(preferences)+1)/2]...)
	return out
}
