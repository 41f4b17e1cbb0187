package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Channel is a websocket connection to the Locrit backend carrying JSON
// envelopes. It does not reconnect: a read failure is reported to the handler
// once and the channel is done.
type Channel struct {
	conn    *websocket.Conn
	handler Handler
	log     *logger.Logger

	writeMu sync.Mutex
	done    chan struct{}
	closing chan struct{}
	once    sync.Once
}

// Dial connects to url and starts dispatching incoming events to h.
func Dial(ctx context.Context, url string, h Handler, log *logger.Logger) (*Channel, error) {
	if log == nil {
		log = logger.Nop()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing chat channel: %w", err)
	}

	c := &Channel{
		conn:    conn,
		handler: h,
		log:     log.Component("channel"),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// backend pings keep the connection alive; reset the deadline on each
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go c.readLoop()

	c.log.Info("Chat channel connected", zap.String("url", url))
	return c, nil
}

// Send writes one envelope.
func (c *Channel) Send(ctx context.Context, event model.ChannelEvent, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	select {
	case <-c.done:
		return errors.New("chat channel closed")
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(model.Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

// Done is closed when the read loop exits.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down without reporting an error to the handler.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Channel) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.log.Warn("Chat channel read failed", zap.Error(err))
				c.handler.OnChannelError(model.ErrorEvent{Code: "connection_lost", Message: err.Error()})
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("Dropping malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case model.EventChatChunk:
		var ev model.ChunkEvent
		if err := decode(env.Data, &ev); err != nil {
			c.log.Warn("Dropping malformed chunk", zap.Error(err))
			return
		}
		c.handler.OnChunk(ev)
	case model.EventChatComplete:
		var ev model.CompleteEvent
		if err := decode(env.Data, &ev); err != nil {
			c.log.Warn("Dropping malformed completion", zap.Error(err))
			return
		}
		c.handler.OnComplete(ev)
	case model.EventError:
		var ev model.ErrorEvent
		if err := decode(env.Data, &ev); err != nil {
			ev = model.ErrorEvent{Message: string(env.Data)}
		}
		c.handler.OnChannelError(ev)
	default:
		c.log.Debug("Ignoring channel event", zap.String("event", string(env.Event)))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
