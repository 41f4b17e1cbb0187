// Package model defines data structures for the Locrit platform.
package model

import (
	"time"
)

// ConversationStatus is the lifecycle status of a persisted conversation.
type ConversationStatus string

const (
	StatusActive ConversationStatus = "active"
	StatusEnded  ConversationStatus = "ended"
)

// ConversationTypeScheduled marks conversations produced by the scheduled engine.
const ConversationTypeScheduled = "scheduled"

// Style selects the message template family of a scheduled conversation.
type Style string

const (
	StyleCasual   Style = "casual"
	StyleFormal   Style = "formal"
	StyleDebate   Style = "debate"
	StyleCreative Style = "creative"
)

// Styles lists every known conversation style.
var Styles = []Style{StyleCasual, StyleFormal, StyleDebate, StyleCreative}

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	for _, known := range Styles {
		if s == known {
			return true
		}
	}
	return false
}

// Conversation is the persisted record of a conversation.
type Conversation struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Topic            string             `json:"topic"`
	Type             string             `json:"type"`
	Participants     []string           `json:"participants"`
	Style            Style              `json:"style"`
	Duration         int                `json:"duration"`
	MessageFrequency int                `json:"message_frequency"`
	MaxMessages      int                `json:"max_messages"`
	Status           ConversationStatus `json:"status"`
	IsActive         bool               `json:"is_active"`
	MessageCount     int                `json:"message_count"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	EndedAt          *time.Time         `json:"ended_at,omitempty"`
}

// ConversationPatch holds the fields of a partial conversation update.
// Nil fields are left untouched.
type ConversationPatch struct {
	Title        *string             `json:"title,omitempty"`
	Status       *ConversationStatus `json:"status,omitempty"`
	IsActive     *bool               `json:"is_active,omitempty"`
	MessageCount *int                `json:"message_count,omitempty"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
}

// Apply copies the set fields of p onto c and bumps UpdatedAt.
func (p ConversationPatch) Apply(c *Conversation, now time.Time) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.MessageCount != nil {
		c.MessageCount = *p.MessageCount
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		c.EndedAt = &t
	}
	c.UpdatedAt = now
}

// EndedPatch builds the patch written when a scheduled run finishes.
func EndedPatch(messageCount int, at time.Time) ConversationPatch {
	status := StatusEnded
	active := false
	return ConversationPatch{
		Status:       &status,
		IsActive:     &active,
		MessageCount: &messageCount,
		EndedAt:      &at,
	}
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
