package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "locrit.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func newConversation(title string) *model.Conversation {
	return &model.Conversation{
		Title:            title,
		Topic:            "the weather",
		Type:             model.ConversationTypeScheduled,
		Participants:     []string{"a", "b"},
		Style:            model.StyleCasual,
		Duration:         5,
		MessageFrequency: 10,
		MaxMessages:      20,
		Status:           model.StatusActive,
		IsActive:         true,
	}
}

func TestConversationLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.CreateConversation(ctx, newConversation("chat"))
			require.NoError(t, err)
			require.NotEmpty(t, id)

			conv, err := s.GetConversation(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "chat", conv.Title)
			assert.Equal(t, []string{"a", "b"}, conv.Participants)
			assert.True(t, conv.IsActive)
			assert.Nil(t, conv.EndedAt)

			active, err := s.GetActiveConversations(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)

			endedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			require.NoError(t, s.UpdateConversation(ctx, id, model.EndedPatch(7, endedAt)))

			conv, err = s.GetConversation(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.StatusEnded, conv.Status)
			assert.False(t, conv.IsActive)
			assert.Equal(t, 7, conv.MessageCount)
			require.NotNil(t, conv.EndedAt)
			assert.True(t, endedAt.Equal(*conv.EndedAt))

			active, err = s.GetActiveConversations(ctx)
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestConversationNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetConversation(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			err = s.UpdateConversation(ctx, "missing", model.EndedPatch(0, time.Now()))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMessagesByOwner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, content := range []string{"one", "two", "three"} {
				_, err := s.SendMessage(ctx, &model.ChatMessage{
					ConversationID: "conv-1",
					Content:        content,
					Sender:         model.SenderLocrit,
					SenderName:     "Pixie",
				})
				require.NoError(t, err)
			}
			id, err := s.SendMessage(ctx, &model.ChatMessage{
				ID:       "given-id",
				LocritID: "pixie",
				Content:  "hello",
				Sender:   model.SenderUser,
			})
			require.NoError(t, err)
			assert.Equal(t, "given-id", id)

			convMsgs, err := s.GetConversationMessages(ctx, "conv-1")
			require.NoError(t, err)
			require.Len(t, convMsgs, 3)
			assert.Equal(t, "one", convMsgs[0].Content)
			assert.Equal(t, "three", convMsgs[2].Content)
			assert.False(t, convMsgs[0].Timestamp.IsZero())

			locritMsgs, err := s.GetLocritMessages(ctx, "pixie")
			require.NoError(t, err)
			require.Len(t, locritMsgs, 1)
			assert.Equal(t, model.SenderUser, locritMsgs[0].Sender)

			empty, err := s.GetConversationMessages(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestSendMessageRejectsAmbiguousOwner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.SendMessage(ctx, &model.ChatMessage{
				ConversationID: "c", LocritID: "l", Sender: model.SenderUser,
			})
			assert.ErrorIs(t, err, ErrInvalidMessage)

			_, err = s.SendMessage(ctx, &model.ChatMessage{Sender: model.SenderUser})
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}
