// Package chat reconciles a streamed Locrit reply into a coherent message list.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/metrics"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrExchangeInFlight = errors.New("a reply is still streaming")
	ErrNotConnected     = errors.New("chat channel not attached")
)

// View identifies the chat a reconciler renders.
type View struct {
	LocritName string
	SessionID  string
}

func (v View) matches(locritName, sessionID string) bool {
	return v.LocritName == locritName && v.SessionID == sessionID
}

// Sender delivers outgoing channel events.
type Sender interface {
	Send(ctx context.Context, event model.ChannelEvent, payload any) error
}

// Handler receives incoming channel events.
type Handler interface {
	OnChunk(ev model.ChunkEvent)
	OnComplete(ev model.CompleteEvent)
	OnChannelError(ev model.ErrorEvent)
}

// UpdateKind tells a listener what changed.
type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateChunk    UpdateKind = "chunk"
	UpdateComplete UpdateKind = "complete"
	UpdateError    UpdateKind = "error"
	// UpdateNotice reports a non-fatal problem; the message is not added to the list.
	UpdateNotice UpdateKind = "notice"
)

const persistenceTimeout = 5 * time.Second

// Update describes one change to the message list.
type Update struct {
	Kind    UpdateKind
	Message model.ChatMessage
	Delta   string
}

// Reconciler owns the message list of one chat view.
//
// At most one locrit message is the streaming target at a time; chunks for the
// view are appended to it while it is the last message, otherwise they start a
// new locrit message which becomes the target.
type Reconciler struct {
	view View
	now  func() time.Time
	log  *logger.Logger

	mu          sync.Mutex
	out         Sender
	history     store.MessageStore
	messages    []model.ChatMessage
	streamingID string
	typing      bool
	input       string
	listener    func(Update)
}

// NewReconciler creates a reconciler for view. out may be attached later.
func NewReconciler(view View, out Sender, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		view: view,
		now:  time.Now,
		log:  log.Component("chat").WithSession(view.LocritName, view.SessionID),
		out:  out,
	}
}

// Attach sets the outgoing channel.
func (r *Reconciler) Attach(out Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
}

// Persist saves the user's messages and completed replies to messages. A nil
// store turns persistence off.
func (r *Reconciler) Persist(messages store.MessageStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = messages
}

// OnUpdate registers a listener called after every change. It runs without the
// reconciler lock held.
func (r *Reconciler) OnUpdate(fn func(Update)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// View returns the chat identity.
func (r *Reconciler) View() View {
	return r.view
}

// Join announces the view on the channel.
func (r *Reconciler) Join(ctx context.Context) error {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	return out.Send(ctx, model.EventJoinChat, model.JoinRequest{
		LocritName: r.view.LocritName,
		SessionID:  r.view.SessionID,
	})
}

// LoadHistory seeds the message list from the store.
func (r *Reconciler) LoadHistory(ctx context.Context, messages store.MessageStore) error {
	history, err := messages.GetLocritMessages(ctx, r.view.LocritName)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	r.mu.Lock()
	r.messages = append(history, r.messages...)
	r.mu.Unlock()
	return nil
}

// BeginExchange sends text to the Locrit and opens a streaming target for the
// reply.
func (r *Reconciler) BeginExchange(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	if r.typing {
		r.mu.Unlock()
		return ErrExchangeInFlight
	}
	out := r.out
	if out == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}

	now := r.now()
	user := model.ChatMessage{
		ID:         uuid.NewString(),
		LocritID:   r.view.LocritName,
		Content:    text,
		Sender:     model.SenderUser,
		SenderName: "user",
		Timestamp:  now,
	}
	placeholder := r.locritMessage("", now)
	r.messages = append(r.messages, user, placeholder)
	r.streamingID = placeholder.ID
	r.typing = true
	r.input = ""
	listener := r.listener
	history := r.history
	r.mu.Unlock()

	notify(listener, Update{Kind: UpdateMessage, Message: user})
	notify(listener, Update{Kind: UpdateMessage, Message: placeholder})
	r.save(ctx, history, listener, user)

	err := out.Send(ctx, model.EventChatMessage, model.ChatRequest{
		LocritName: r.view.LocritName,
		SessionID:  r.view.SessionID,
		Message:    text,
		Stream:     true,
	})
	if err != nil {
		r.OnChannelError(model.ErrorEvent{Code: "send_failed", Message: err.Error()})
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// OnChunk appends a streamed fragment.
func (r *Reconciler) OnChunk(ev model.ChunkEvent) {
	if !r.view.matches(ev.LocritName, ev.SessionID) {
		metrics.RecordChunk("dropped")
		r.log.Debug("Dropping chunk for another view",
			zap.String("chunk_locrit", ev.LocritName),
			zap.String("chunk_session", ev.SessionID),
		)
		return
	}

	r.mu.Lock()
	var msg model.ChatMessage
	result := "appended"
	if n := len(r.messages); n > 0 && r.streamingID != "" && r.messages[n-1].ID == r.streamingID {
		r.messages[n-1].Content += ev.Content
		msg = r.messages[n-1]
	} else {
		msg = r.locritMessage(ev.Content, r.now())
		r.messages = append(r.messages, msg)
		r.streamingID = msg.ID
		result = "created"
	}
	listener := r.listener
	r.mu.Unlock()

	metrics.RecordChunk(result)
	notify(listener, Update{Kind: UpdateChunk, Message: msg, Delta: ev.Content})
}

// OnComplete closes the streaming target. Content is left untouched.
func (r *Reconciler) OnComplete(ev model.CompleteEvent) {
	if ev.LocritName != "" && ev.LocritName != r.view.LocritName {
		return
	}
	if ev.SessionID != "" && ev.SessionID != r.view.SessionID {
		return
	}

	r.mu.Lock()
	var reply *model.ChatMessage
	for i := len(r.messages) - 1; i >= 0 && r.streamingID != ""; i-- {
		if r.messages[i].ID == r.streamingID {
			m := r.messages[i]
			reply = &m
			break
		}
	}
	r.streamingID = ""
	r.typing = false
	listener := r.listener
	history := r.history
	r.mu.Unlock()

	notify(listener, Update{Kind: UpdateComplete})
	if reply != nil && reply.Content != "" {
		r.save(context.Background(), history, listener, *reply)
	}
}

// save persists msg. Failures are logged and reported as a notice; the
// exchange carries on.
func (r *Reconciler) save(ctx context.Context, history store.MessageStore, listener func(Update), msg model.ChatMessage) {
	if history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistenceTimeout)
	defer cancel()

	if _, err := history.SendMessage(ctx, &msg); err != nil {
		metrics.RecordPersistenceFailure("save_chat_message")
		r.log.Warn("Failed to save chat message", zap.String("message_id", msg.ID), zap.Error(err))
		notify(listener, Update{Kind: UpdateNotice, Message: model.ChatMessage{
			ID:         uuid.NewString(),
			LocritID:   r.view.LocritName,
			Content:    "Could not save message: " + err.Error(),
			Sender:     model.SenderSystem,
			SenderName: "system",
			Timestamp:  r.now(),
		}})
	}
}

// OnChannelError stops the typing indicator and records the error as a system
// message.
func (r *Reconciler) OnChannelError(ev model.ErrorEvent) {
	text := ev.Message
	if text == "" {
		text = "unknown error"
	}
	r.log.Warn("Chat channel error", zap.String("code", ev.Code), zap.String("error", text))

	r.mu.Lock()
	msg := model.ChatMessage{
		ID:         uuid.NewString(),
		LocritID:   r.view.LocritName,
		Content:    "Error: " + text,
		Sender:     model.SenderSystem,
		SenderName: "system",
		Timestamp:  r.now(),
	}
	r.messages = append(r.messages, msg)
	r.typing = false
	listener := r.listener
	r.mu.Unlock()

	notify(listener, Update{Kind: UpdateError, Message: msg})
}

// SetInput replaces the pending input text.
func (r *Reconciler) SetInput(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = text
}

// Input returns the pending input text.
func (r *Reconciler) Input() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// Messages returns a copy of the message list.
func (r *Reconciler) Messages() []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage(nil), r.messages...)
}

// Typing reports whether a reply is expected.
func (r *Reconciler) Typing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing
}

// StreamingID returns the ID of the message receiving chunks, or "".
func (r *Reconciler) StreamingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamingID
}

// locritMessage builds a reply message. Callers hold r.mu.
func (r *Reconciler) locritMessage(content string, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		ID:         uuid.NewString(),
		LocritID:   r.view.LocritName,
		Content:    content,
		Sender:     model.SenderLocrit,
		SenderID:   r.view.LocritName,
		SenderName: r.view.LocritName,
		Timestamp:  at,
	}
}

func notify(listener func(Update), u Update) {
	if listener != nil {
		listener(u)
	}
}
