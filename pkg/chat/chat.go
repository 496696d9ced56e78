// Package chat defines the core conversation data model shared by the
// persistence, memory, and model engines.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a versioned chat record. Version increases by exactly one
// on every successful write; CreatedAt never changes after the first save.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Message is a single utterance owned by its conversation.
type Message struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
}

// NewConversation creates an empty conversation at version 0.
// CreatedAt is left zero; the persistence layer stamps it on first save.
func NewConversation(title, modelID string) *Conversation {
	return &Conversation{
		ID:      uuid.NewString(),
		Title:   title,
		ModelID: modelID,
	}
}

// NewMessage creates a message bound to the given conversation.
func NewMessage(conversationID, role, content string) Message {
	return Message{
		ID:             uuid.NewString(),
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
	}
}

// Append adds a message to the conversation, stamping its ConversationID.
func (c *Conversation) Append(msg Message) {
	msg.ConversationID = c.ID
	c.Messages = append(c.Messages, msg)
}

// Clone returns a deep copy so callers can mutate without aliasing
// storage-held state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Tokens estimates the token footprint of the whole conversation.
func (c *Conversation) Tokens() int {
	total := 0
	for _, m := range c.Messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// ValidRole reports whether role is one of the three supported roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
