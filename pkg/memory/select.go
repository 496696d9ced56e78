package memory

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Scoring weights for injection selection.
const (
	pinnedBonus        = 5.0
	keywordOverlapCap  = 0.25
	keywordOverlapUnit = 0.05

	budgetFloor   = 150
	budgetCeiling = 500
	budgetShare   = 0.25
)

// SelectionQuery describes the prompt-injection context.
type SelectionQuery struct {
	// ContextWindow is the model's total token budget.
	ContextWindow int

	// ConversationTokens is the current conversation's estimated footprint.
	ConversationTokens int

	// UserMessage is the message being responded to; facts sharing its
	// words score a small relevance bonus.
	UserMessage string
}

// Selection is the budgeted fact set chosen for prompt injection.
type Selection struct {
	Facts      []Fact `json:"facts"`
	Budget     int    `json:"budget"`
	TokensUsed int    `json:"tokens_used"`
}

// SelectForInjection picks the highest-scoring facts that fit the token
// budget. Selection is greedy in strict score order and stops at the first
// fact that would overflow. It never skips ahead to a smaller fact, which
// keeps priority ordering deterministic.
func (e *Engine) SelectForInjection(ctx context.Context, q SelectionQuery) (*Selection, error) {
	facts, err := e.loadFacts(ctx)
	if err != nil {
		return nil, err
	}
	return e.selectFrom(facts, q), nil
}

// selectFrom runs scoring and the greedy budget walk over a candidate pool.
func (e *Engine) selectFrom(facts []Fact, q SelectionQuery) *Selection {
	budget := injectionBudget(q.ContextWindow, q.ConversationTokens, e.config.OutputReserve)
	now := e.now()
	userWords := wordSet(q.UserMessage)

	sort.SliceStable(facts, func(i, j int) bool {
		si, sj := scoreFact(&facts[i], now, userWords), scoreFact(&facts[j], now, userWords)
		if si != sj {
			return si > sj
		}
		if !facts[i].LastSeen.Equal(facts[j].LastSeen) {
			return facts[i].LastSeen.After(facts[j].LastSeen)
		}
		return facts[i].ID < facts[j].ID
	})

	sel := &Selection{Budget: budget}
	limit := budget - e.config.SafetyMargin
	for _, f := range facts {
		if sel.TokensUsed+f.Tokens() > limit {
			break
		}
		sel.Facts = append(sel.Facts, f)
		sel.TokensUsed += f.Tokens()
	}

	return sel
}

// injectionBudget computes the memory token budget: a quarter of what's left
// after the conversation and the output reserve, clamped to [150, 500].
func injectionBudget(contextWindow, conversationTokens, outputReserve int) int {
	remaining := contextWindow - conversationTokens - outputReserve
	if remaining < 0 {
		remaining = 0
	}

	budget := int(budgetShare * float64(remaining))
	if budget < budgetFloor {
		return budgetFloor
	}
	if budget > budgetCeiling {
		return budgetCeiling
	}
	return budget
}

// scoreFact ranks a fact for injection. Pinning dominates, then category
// priority, then confidence, recency, and keyword overlap with the current
// user message.
func scoreFact(f *Fact, now time.Time, userWords map[string]bool) float64 {
	score := f.Confidence
	if f.Pinned {
		score += pinnedBonus
	}
	score += categoryPriority(f.Category)
	score += recencyFactor(f.LastSeen, now)
	score += keywordOverlap(f.Text, userWords)
	return score
}

func categoryPriority(c Category) float64 {
	switch c {
	case CategoryProject:
		return 3
	case CategoryPreference:
		return 2
	case CategoryIdentity:
		return 1
	}
	return 0
}

// recencyFactor decays linearly from 1 to 0 over 30 days since last seen.
func recencyFactor(lastSeen, now time.Time) float64 {
	ageDays := now.Sub(lastSeen).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	factor := 1 - ageDays/30
	if factor < 0 {
		return 0
	}
	return factor
}

// keywordOverlap rewards facts whose words appear in the user's current
// message, capped so relevance never outranks category priority.
func keywordOverlap(text string, userWords map[string]bool) float64 {
	if len(userWords) == 0 {
		return 0
	}

	overlap := 0.0
	for _, w := range strings.Fields(NormalizeText(text)) {
		if userWords[w] {
			overlap += keywordOverlapUnit
		}
	}
	return min(overlap, keywordOverlapCap)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(NormalizeText(s))
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
