package model

import (
	"encoding/json"
	"time"
)

// ChannelEvent names an event exchanged over the Locrit chat channel.
type ChannelEvent string

const (
	EventChatChunk    ChannelEvent = "chat_chunk"
	EventChatComplete ChannelEvent = "chat_complete"
	EventError        ChannelEvent = "error"
	EventChatMessage  ChannelEvent = "chat_message"
	EventJoinChat     ChannelEvent = "join_chat"
)

// Envelope is the JSON frame carried by the chat channel.
type Envelope struct {
	Event ChannelEvent    `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChunkEvent carries one partial fragment of a streamed reply.
type ChunkEvent struct {
	LocritName string `json:"locrit_name"`
	SessionID  string `json:"session_id"`
	Content    string `json:"content"`
}

// CompleteEvent signals the end of a streamed reply. The backend may omit the
// correlation fields.
type CompleteEvent struct {
	LocritName string `json:"locrit_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ChatRequest is the outgoing chat_message payload.
type ChatRequest struct {
	LocritName string `json:"locrit_name"`
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	Stream     bool   `json:"stream"`
}

// JoinRequest is the outgoing join_chat payload.
type JoinRequest struct {
	LocritName string `json:"locrit_name"`
	SessionID  string `json:"session_id"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// TickEvent reports the remaining time of a scheduled run.
type TickEvent struct {
	TimeRemaining int    `json:"time_remaining"`
	Formatted     string `json:"formatted"`
}
