// Package domain defines the core chat entities.
package domain

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a named, ordered thread of messages.
type Conversation struct {
	ID        string    `json:"conversationId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one role-tagged utterance within a conversation. ID is the
// store-assigned order key; messages are never mutated after creation.
type Message struct {
	ID             int64     `json:"-"`
	ConversationID string    `json:"-"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}
