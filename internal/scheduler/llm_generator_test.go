package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/internal/llm"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

type stubClient struct {
	reply string
	err   error
	last  *llm.CompletionRequest
}

func (c *stubClient) Name() string { return "stub" }

func (c *stubClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.reply}, nil
}

func llmTurn() Turn {
	alice := Participant{ID: "a", Name: "Alice", Description: "a poet"}
	bob := Participant{ID: "b", Name: "Bob"}
	return Turn{
		Config:       Config{Title: "Evening", Topic: "the sea", Style: model.StyleCreative},
		Index:        2,
		Speaker:      alice,
		Participants: []Participant{alice, bob},
		History: []model.ChatMessage{
			{Sender: model.SenderLocrit, SenderID: "a", SenderName: "Alice", Content: "Waves again."},
			{Sender: model.SenderLocrit, SenderID: "b", SenderName: "Bob", Content: "Always waves."},
		},
	}
}

func TestLLMGeneratorUsesModelReply(t *testing.T) {
	client := &stubClient{reply: "  The tide keeps its own counsel.  "}
	g := NewLLMGenerator(client, nil, logger.Nop())

	text, err := g.Generate(context.Background(), llmTurn())
	require.NoError(t, err)
	assert.Equal(t, "The tide keeps its own counsel.", text)
	assert.Equal(t, "llm:stub", g.Name())

	req := client.last
	require.NotNil(t, req)
	assert.Contains(t, req.System, "You are Alice, a poet")
	assert.Contains(t, req.System, "Bob")
	assert.Contains(t, req.System, "the sea")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "Waves again.", req.Messages[1].Content)
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Equal(t, "Bob: Always waves.", req.Messages[2].Content)
}

func TestLLMGeneratorFallsBackToTemplates(t *testing.T) {
	for name, client := range map[string]*stubClient{
		"error": {err: errors.New("rate limited")},
		"empty": {reply: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			g := NewLLMGenerator(client, nil, logger.Nop())

			text, err := g.Generate(context.Background(), llmTurn())
			require.NoError(t, err)
			assert.Equal(t, NewTemplateGenerator(nil).Message(model.StyleCreative, "the sea", 2, "a poet"), text)
		})
	}
}

func TestHistoryMessagesPromptsWhenSpeakerSpokeLast(t *testing.T) {
	turn := llmTurn()
	turn.History = turn.History[:1]

	msgs := historyMessages(turn)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"user", "assistant", "user"}, roles(msgs))
	assert.Contains(t, msgs[2].Content, "the sea")
}

func TestHistoryMessagesAlwaysOpenWithUser(t *testing.T) {
	tests := []struct {
		name      string
		speaker   string
		wantFirst string
	}{
		{name: "speaker opened", speaker: "a", wantFirst: "Let's talk about the sea. You start."},
		{name: "other opened", speaker: "b", wantFirst: "Alice: Waves again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := llmTurn()
			for _, p := range turn.Participants {
				if p.ID == tt.speaker {
					turn.Speaker = p
				}
			}

			msgs := historyMessages(turn)
			assert.Equal(t, []string{"user", "assistant", "user"}, roles(msgs))
			assert.Equal(t, tt.wantFirst, msgs[0].Content)
		})
	}
}

func TestHistoryMessagesEmptyHistory(t *testing.T) {
	turn := llmTurn()
	turn.History = nil

	assert.Equal(t, []string{"user"}, roles(historyMessages(turn)))
}

func roles(msgs []llm.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}
