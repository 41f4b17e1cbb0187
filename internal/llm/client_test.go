package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientTemplateHasNoClient(t *testing.T) {
	c, err := NewClient(ProviderTemplate, Options{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient("mystery", Options{})
	assert.Error(t, err)
}

func TestNewClientRequiresKeys(t *testing.T) {
	_, err := NewClient(ProviderOpenAI, Options{})
	assert.Error(t, err)

	_, err = NewClient(ProviderAnthropic, Options{})
	assert.Error(t, err)
}

func TestOllamaCompletesThroughOpenAICompatibleAPI(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "llama3",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Bonjour!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOllama, Options{BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	resp, err := c.Complete(context.Background(), &CompletionRequest{
		System:   "You are Pixie.",
		Messages: []ChatMessage{{Role: "user", Content: "Say hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bonjour!", resp.Content)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 3, resp.TokensOut)
	assert.Equal(t, "stop", resp.StopReason)

	assert.Equal(t, "llama3", received.Model)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Equal(t, "Say hi", received.Messages[1].Content)
}
