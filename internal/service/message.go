package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/locrit/platform/internal/directory"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
)

// ErrLocritNotFound is returned for Locrits missing from the directory.
var ErrLocritNotFound = errors.New("locrit not found")

// MessageService reads message history and the Locrit directory.
type MessageService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	directory     directory.Directory
	logger        *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	dir directory.Directory,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		directory:     dir,
		logger:        log.Component("messages"),
	}
}

// Locrits lists the known Locrits.
func (s *MessageService) Locrits(ctx context.Context) (*model.ListLocritsResponse, error) {
	locrits, err := s.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locrits: %w", err)
	}
	return &model.ListLocritsResponse{Locrits: locrits, Total: len(locrits)}, nil
}

// LocritMessages retrieves the direct chat history of a Locrit.
func (s *MessageService) LocritMessages(ctx context.Context, locritID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.directory.Get(ctx, locritID); err != nil {
		if errors.Is(err, directory.ErrUnknownLocrit) {
			return nil, ErrLocritNotFound
		}
		return nil, fmt.Errorf("failed to resolve locrit: %w", err)
	}

	msgs, err := s.messages.GetLocritMessages(ctx, locritID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messagePage(msgs, limit, offset), nil
}

// ConversationMessages retrieves the messages of a conversation.
func (s *MessageService) ConversationMessages(ctx context.Context, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	msgs, err := s.messages.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messagePage(msgs, limit, offset), nil
}

func messagePage(msgs []model.ChatMessage, limit, offset int) *model.ListMessagesResponse {
	page, total, hasMore := paginate(msgs, limit, offset)
	return &model.ListMessagesResponse{
		Messages: page,
		Total:    total,
		HasMore:  hasMore,
	}
}
