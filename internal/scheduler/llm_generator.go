package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/locrit/platform/internal/llm"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/metrics"
)

// historyWindow bounds how many previous turns are sent to the model.
const historyWindow = 12

// LLMGenerator asks a language model to speak as the current participant and
// falls back to templates when the model fails or answers with nothing.
type LLMGenerator struct {
	client   llm.Client
	fallback *TemplateGenerator
	timeout  time.Duration
	logger   *logger.Logger
}

// NewLLMGenerator wraps client. fallback may be nil to use the built-in templates.
func NewLLMGenerator(client llm.Client, fallback *TemplateGenerator, log *logger.Logger) *LLMGenerator {
	if fallback == nil {
		fallback = NewTemplateGenerator(nil)
	}
	return &LLMGenerator{
		client:   client,
		fallback: fallback,
		timeout:  30 * time.Second,
		logger:   log.Component("generator"),
	}
}

// Name returns the generator name.
func (g *LLMGenerator) Name() string {
	return "llm:" + g.client.Name()
}

// Generate produces the speaker's next line.
func (g *LLMGenerator) Generate(ctx context.Context, turn Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		System:      systemPrompt(turn),
		Messages:    historyMessages(turn),
		MaxTokens:   256,
		Temperature: 0.8,
	})
	elapsed := time.Since(start).Seconds()

	if err == nil && strings.TrimSpace(resp.Content) != "" {
		metrics.RecordLLMGeneration(g.client.Name(), "success", elapsed)
		return strings.TrimSpace(resp.Content), nil
	}

	metrics.RecordLLMGeneration(g.client.Name(), "fallback", elapsed)
	g.logger.Warn("LLM generation failed, using template",
		zap.String("speaker", turn.Speaker.ID),
		zap.Int("turn", turn.Index),
		zap.Error(err),
	)
	return g.fallback.Generate(ctx, turn)
}

func systemPrompt(turn Turn) string {
	names := make([]string, 0, len(turn.Participants))
	for _, p := range turn.Participants {
		if p.ID != turn.Speaker.ID {
			names = append(names, p.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", turn.Speaker.Name)
	if turn.Speaker.Description != "" {
		fmt.Fprintf(&b, ", %s", turn.Speaker.Description)
	}
	fmt.Fprintf(&b, ". You are taking part in a %s conversation titled %q with %s. ",
		turn.Config.Style, turn.Config.Title, strings.Join(names, ", "))
	fmt.Fprintf(&b, "The topic is: %s. Reply with a single short message in your own voice, without prefixing your name.",
		turn.Config.Topic)
	return b.String()
}

// historyMessages maps the recent transcript onto chat roles from the
// speaker's point of view.
func historyMessages(turn Turn) []llm.ChatMessage {
	history := turn.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Sender != model.SenderLocrit {
			continue
		}
		if m.SenderID == turn.Speaker.ID {
			msgs = append(msgs, llm.ChatMessage{Role: "assistant", Content: m.Content})
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: "user", Content: m.SenderName + ": " + m.Content})
	}
	// providers such as Anthropic require the first turn to come from the user
	if len(msgs) > 0 && msgs[0].Role == "assistant" {
		opener := llm.ChatMessage{
			Role:    "user",
			Content: fmt.Sprintf("Let's talk about %s. You start.", turn.Config.Topic),
		}
		msgs = append([]llm.ChatMessage{opener}, msgs...)
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role == "assistant" {
		msgs = append(msgs, llm.ChatMessage{
			Role:    "user",
			Content: fmt.Sprintf("Please continue the conversation about %s.", turn.Config.Topic),
		})
	}
	return msgs
}
