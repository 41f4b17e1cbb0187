// Package store defines the conversation and message storage collaborators and
// ships in-memory and SQLite implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/locrit/platform/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned for messages that do not name exactly one
// owning context.
var ErrInvalidMessage = errors.New("invalid message")

// ConversationStore persists conversation records.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) (string, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetActiveConversations(ctx context.Context) ([]model.Conversation, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	SendMessage(ctx context.Context, msg *model.ChatMessage) (string, error)
	GetLocritMessages(ctx context.Context, locritID string) ([]model.ChatMessage, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

// Store is a complete storage backend.
type Store interface {
	ConversationStore
	MessageStore
	Ping(ctx context.Context) error
	Close() error
}

// ValidateMessage checks the ownership invariant of a message.
func ValidateMessage(msg *model.ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	hasConv := msg.ConversationID != ""
	hasLocrit := msg.LocritID != ""
	if hasConv == hasLocrit {
		return fmt.Errorf("%w: exactly one of conversation_id and locrit_id must be set", ErrInvalidMessage)
	}
	if msg.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	return nil
}
