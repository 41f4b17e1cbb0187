// Package service provides the read and control operations behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
)

// ErrConversationNotFound is returned for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService exposes stored conversations.
type ConversationService struct {
	store  store.ConversationStore
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.ConversationStore, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		logger: log.Component("conversations"),
	}
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// Active lists the active conversations, newest first.
func (s *ConversationService) Active(ctx context.Context, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, err := s.store.GetActiveConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	page, total, hasMore := paginate(convs, limit, offset)
	s.logger.Debug("Listed active conversations", zap.Int("total", total), zap.Int("returned", len(page)))

	return &model.ListConversationsResponse{
		Conversations: page,
		Total:         total,
		HasMore:       hasMore,
	}, nil
}

// paginate clamps limit to [1, 100] with a default of 50 and slices items.
func paginate[T any](items []T, limit, offset int) ([]T, int, bool) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	total := len(items)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]T, end-start)
	copy(page, items[start:end])
	return page, total, end < total
}
