// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/coachmind/mental-coach/internal/domain"
)

// Repository defines the interface for persisting conversations and messages.
type Repository interface {
	// EnsureConversation creates the conversation if it does not exist.
	// Calling it for an existing conversation is a no-op.
	EnsureConversation(ctx context.Context, conversationID string) error

	// AppendMessage appends a message to a conversation and bumps the
	// conversation's updated_at timestamp in the same transaction.
	AppendMessage(ctx context.Context, conversationID, role, content string) error

	// ListMessages returns a conversation's messages oldest first.
	// Unknown conversations yield an empty slice, not an error.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// GetConversation retrieves conversation metadata.
	// Returns (nil, nil) when the conversation does not exist.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// DeleteConversation removes a conversation and all of its messages.
	// Deleting an absent conversation is not an error.
	DeleteConversation(ctx context.Context, conversationID string) error

	// PurgeIdleConversations deletes conversations not updated since cutoff
	// and returns the number of conversations removed.
	PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
