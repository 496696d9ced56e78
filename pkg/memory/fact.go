package memory

import (
	"strings"
	"time"
)

// Category classifies what kind of durable knowledge a fact carries.
type Category string

const (
	CategoryIdentity   Category = "identity"
	CategoryPreference Category = "preference"
	CategoryProject    Category = "project"
)

// Valid reports whether c is one of the three supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryIdentity, CategoryPreference, CategoryProject:
		return true
	}
	return false
}

// Fact is a distilled, durable piece of knowledge about the user.
type Fact struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`

	// MentionCount is how many times this fact has been observed (≥1).
	MentionCount int `json:"mention_count"`

	FirstSeen              time.Time `json:"first_seen"`
	LastSeen               time.Time `json:"last_seen"`
	LastSeenConversationID string    `json:"last_seen_conversation_id,omitempty"`

	// Pinned facts are exempt from expiry and eviction.
	Pinned bool `json:"pinned,omitempty"`

	// UpdatesFactID references a fact this one superseded. Relation only,
	// not ownership: the referenced fact no longer exists.
	UpdatesFactID string `json:"updates_fact_id,omitempty"`
}

// Tokens estimates the fact's prompt-injection footprint.
func (f *Fact) Tokens() int {
	return estimateTokens(f.Text)
}

// NormalizeText canonicalizes fact text for exact-duplicate comparison:
// trim, collapse internal whitespace, lowercase.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
