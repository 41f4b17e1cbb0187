package model

import (
	"time"
)

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderLocrit Sender = "locrit"
	SenderSystem Sender = "system"
)

// ChatMessage is one exchanged utterance. Exactly one of ConversationID and
// LocritID names the owning context.
type ChatMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	LocritID       string `json:"locrit_id,omitempty"`

	Content    string `json:"content"`
	Sender     Sender `json:"sender"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name"`

	Timestamp time.Time `json:"timestamp"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []ChatMessage `json:"messages"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"has_more"`
}
