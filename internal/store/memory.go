package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locrit/platform/internal/model"
)

// MemoryStore keeps conversations and messages in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      []model.ChatMessage
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		now:           time.Now,
	}
}

// CreateConversation stores a copy of conv, assigning an ID when empty.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) (string, error) {
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.mu.Lock()
	s.conversations[c.ID] = &c
	s.mu.Unlock()

	return c.ID, nil
}

// UpdateConversation applies patch to the stored conversation.
func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	patch.Apply(conv, s.now())
	return nil
}

// GetConversation returns a copy of the conversation.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	return &c, nil
}

// GetActiveConversations returns active conversations, newest first.
func (s *MemoryStore) GetActiveConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.IsActive {
			convs = append(convs, *conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

// SendMessage appends a message, assigning an ID and timestamp when empty.
func (s *MemoryStore) SendMessage(ctx context.Context, msg *model.ChatMessage) (string, error) {
	if err := ValidateMessage(msg); err != nil {
		return "", err
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	return m.ID, nil
}

// GetLocritMessages returns the messages of a Locrit chat in insertion order.
func (s *MemoryStore) GetLocritMessages(ctx context.Context, locritID string) ([]model.ChatMessage, error) {
	return s.filter(func(m model.ChatMessage) bool { return m.LocritID == locritID }), nil
}

// GetConversationMessages returns the messages of a conversation in insertion order.
func (s *MemoryStore) GetConversationMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return s.filter(func(m model.ChatMessage) bool { return m.ConversationID == conversationID }), nil
}

func (s *MemoryStore) filter(keep func(model.ChatMessage) bool) []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChatMessage, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
