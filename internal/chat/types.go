// Package chat implements the conversational relay core: admission control,
// prompt assembly, completion streaming, and conversation persistence.
package chat

import (
	"errors"
	"time"
)

var (
	// ErrEmptyMessage is returned when a chat request carries no message text.
	ErrEmptyMessage = errors.New("message is required")

	// ErrMessageTooLong is returned when a message exceeds the configured length bound.
	ErrMessageTooLong = errors.New("message exceeds maximum length")

	// ErrRateLimited is returned when the client's admission window is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Request is one inbound chat turn.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`

	// ClientID is the admission-control identity, resolved by the transport
	// layer rather than supplied by the caller.
	ClientID string `json:"-"`
}

// Event is one element of the outward chat stream. Exactly one of Content,
// Done, or Error is set; every event carries the conversation identity.
type Event struct {
	Content        string `json:"content,omitempty"`
	Done           bool   `json:"done,omitempty"`
	Error          string `json:"error,omitempty"`
	ConversationID string `json:"conversationId"`
}

// WebhookResponse is the synchronous chat reply used by channel adapters.
type WebhookResponse struct {
	ConversationID string    `json:"conversationId"`
	Response       string    `json:"response"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProviderError is a classified completion-provider failure carrying the
// conversation it interrupted.
type ProviderError struct {
	ConversationID string
	Message        string
}

func (e *ProviderError) Error() string {
	return e.Message
}
