package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

// echoBackend streams the received message back in three chunks.
func echoBackend(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event != model.EventChatMessage {
				continue
			}
			var req model.ChatRequest
			if !assert.NoError(t, json.Unmarshal(env.Data, &req)) {
				return
			}

			for _, part := range []string{"Hel", "lo ", "world"} {
				data, _ := json.Marshal(model.ChunkEvent{LocritName: req.LocritName, SessionID: req.SessionID, Content: part})
				conn.WriteJSON(model.Envelope{Event: model.EventChatChunk, Data: data})
			}
			data, _ := json.Marshal(model.CompleteEvent{LocritName: req.LocritName, SessionID: req.SessionID})
			conn.WriteJSON(model.Envelope{Event: model.EventChatComplete, Data: data})
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannelStreamsIntoReconciler(t *testing.T) {
	srv := echoBackend(t)
	defer srv.Close()

	r := newReconciler(nil)
	ch, err := Dial(context.Background(), wsURL(srv), r, logger.Nop())
	require.NoError(t, err)
	defer ch.Close()
	r.Attach(ch)

	require.NoError(t, r.BeginExchange(context.Background(), "say hello"))

	require.Eventually(t, func() bool { return !r.Typing() }, 2*time.Second, 10*time.Millisecond)

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestChannelReportsReadFailureOnce(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	r := newReconciler(nil)
	ch, err := Dial(context.Background(), wsURL(srv), r, logger.Nop())
	require.NoError(t, err)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SenderSystem, msgs[0].Sender)

	assert.Error(t, ch.Send(context.Background(), model.EventJoinChat, model.JoinRequest{}))
}

func TestChannelCloseIsSilent(t *testing.T) {
	srv := echoBackend(t)
	defer srv.Close()

	r := newReconciler(nil)
	ch, err := Dial(context.Background(), wsURL(srv), r, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.Empty(t, r.Messages())
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", newReconciler(nil), logger.Nop())
	assert.Error(t, err)
}
