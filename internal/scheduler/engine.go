// Package scheduler runs timed, turn-based conversations between Locrits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/clock"
	"github.com/locrit/platform/internal/directory"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/metrics"
)

// State is the lifecycle state of an Engine.
type State string

const (
	StateIdle        State = "idle"
	StateConfiguring State = "configuring"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateEnded       State = "ended"
)

// End reasons.
const (
	ReasonTimeout     = "timeout"
	ReasonMaxMessages = "max_messages"
	ReasonStopped     = "stopped"
)

const (
	tickInterval       = time.Second
	persistenceTimeout = 10 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("conversation already running")
	ErrNotRunning     = errors.New("conversation is not running")
	ErrNotPaused      = errors.New("conversation is not paused")
)

// LiveState is the in-memory view of a run.
type LiveState struct {
	State          State               `json:"state"`
	IsRunning      bool                `json:"is_running"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Messages       []model.ChatMessage `json:"messages"`
	TimeRemaining  int                 `json:"time_remaining"`
	Formatted      string              `json:"time_remaining_formatted"`
	MessageCount   int                 `json:"message_count"`
	CurrentSpeaker string              `json:"current_speaker,omitempty"`
	Participants   []Participant       `json:"participants,omitempty"`
	Config         *Config             `json:"config,omitempty"`
}

// EventType names an engine event.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
	EventTick    EventType = "tick"
	EventError   EventType = "error"
)

// Event is published to subscribers on every observable change.
type Event struct {
	Type          EventType          `json:"type"`
	State         State              `json:"state,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Message       *model.ChatMessage `json:"message,omitempty"`
	TimeRemaining int                `json:"time_remaining"`
	Error         string             `json:"error,omitempty"`
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Conversations store.ConversationStore
	Messages      store.MessageStore
	Directory     directory.Directory
	Generator     Generator
	Clock         clock.Clock
	Logger        *logger.Logger

	// OnEnd is called once per run after the ended record is written.
	OnEnd func(conv model.Conversation, reason string)
}

// Engine drives a single scheduled conversation.
//
// Timer callbacks carry the epoch they were armed in. Pause, Resume and End
// bump the epoch and stop the pending handles, so a callback that still fires
// afterwards sees a stale epoch and does nothing.
type Engine struct {
	deps Deps
	log  *logger.Logger

	mu           sync.Mutex
	state        State
	draft        Config
	cfg          Config
	participants []Participant
	conv         *model.Conversation
	last         *model.Conversation
	messages     []model.ChatMessage
	remaining    int
	count        int
	speaker      string
	epoch        uint64
	ctx          context.Context
	countdown    clock.Timer
	generation   clock.Timer
	starting     bool

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewEngine creates an idle engine.
func NewEngine(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Generator == nil {
		deps.Generator = NewTemplateGenerator(nil)
	}
	return &Engine{
		deps:  deps,
		log:   deps.Logger.Component("scheduler"),
		state: StateIdle,
		subs:  make(map[int]chan Event),
	}
}

// Configure stores a draft config. It is rejected while a run is live.
func (e *Engine) Configure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning || e.state == StatePaused || e.starting {
		return ErrAlreadyRunning
	}
	e.draft = cfg
	e.state = StateConfiguring
	return nil
}

// Start validates cfg, creates the conversation record and begins the run.
func (e *Engine) Start(ctx context.Context, cfg Config) (*model.Conversation, error) {
	if err := e.Configure(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.starting || e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.starting = true
	e.mu.Unlock()

	conv, err := e.start(ctx, cfg)

	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()
	return conv, err
}

func (e *Engine) start(ctx context.Context, cfg Config) (*model.Conversation, error) {
	participants, err := e.resolve(ctx, cfg.Participants)
	if err != nil {
		return nil, err
	}

	now := e.deps.Clock.Now()
	conv := &model.Conversation{
		Title:            cfg.Title,
		Topic:            cfg.Topic,
		Type:             model.ConversationTypeScheduled,
		Participants:     append([]string(nil), cfg.Participants...),
		Style:            cfg.Style,
		Duration:         cfg.Duration,
		MessageFrequency: cfg.MessageFrequency,
		MaxMessages:      cfg.MaxMessages,
		Status:           model.StatusActive,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	pctx, cancel := context.WithTimeout(ctx, persistenceTimeout)
	id, err := e.deps.Conversations.CreateConversation(pctx, conv)
	cancel()
	if err != nil {
		metrics.RecordPersistenceFailure("create_conversation")
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	conv.ID = id

	e.mu.Lock()
	e.cfg = cfg
	e.participants = participants
	e.conv = conv
	e.messages = nil
	e.remaining = cfg.TimeBudget()
	e.count = 0
	e.speaker = participants[0].ID
	e.epoch++
	e.ctx = context.WithoutCancel(ctx)
	e.state = StateRunning
	e.log = e.deps.Logger.Component("scheduler").WithConversation(id)
	epoch := e.epoch
	e.armCountdown(epoch)
	e.armGeneration(epoch, 0)
	out := *conv
	log := e.log
	e.mu.Unlock()

	metrics.RecordRunStarted()
	log.Info("Scheduled conversation started",
		zap.String("title", cfg.Title),
		zap.Strings("participants", cfg.Participants),
		zap.Int("duration_min", cfg.Duration),
		zap.Int("message_frequency_s", cfg.MessageFrequency),
		zap.Int("max_messages", cfg.MaxMessages),
		zap.String("generator", e.deps.Generator.Name()),
	)
	e.publish(Event{Type: EventState, State: StateRunning, TimeRemaining: cfg.TimeBudget()})

	return &out, nil
}

// resolve looks every participant up in the directory.
func (e *Engine) resolve(ctx context.Context, ids []string) ([]Participant, error) {
	participants := make([]Participant, 0, len(ids))
	var problems []string

	for _, id := range ids {
		if e.deps.Directory == nil {
			participants = append(participants, Participant{ID: id, Name: id})
			continue
		}
		l, err := e.deps.Directory.Get(ctx, id)
		if errors.Is(err, directory.ErrUnknownLocrit) {
			problems = append(problems, fmt.Sprintf("unknown participant %q", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving participant %s: %w", id, err)
		}
		participants = append(participants, Participant{ID: l.ID, Name: l.Name, Description: l.Description})
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return participants, nil
}

// armCountdown schedules the next countdown tick. Callers hold e.mu.
func (e *Engine) armCountdown(epoch uint64) {
	e.countdown = e.deps.Clock.AfterFunc(tickInterval, func() { e.tick(epoch) })
}

// armGeneration schedules the next generation cycle. Callers hold e.mu.
func (e *Engine) armGeneration(epoch uint64, after time.Duration) {
	e.generation = e.deps.Clock.AfterFunc(after, func() { e.generate(epoch) })
}

// stopTimers cancels both pending handles. Callers hold e.mu.
func (e *Engine) stopTimers() {
	if e.countdown != nil {
		e.countdown.Stop()
		e.countdown = nil
	}
	if e.generation != nil {
		e.generation.Stop()
		e.generation = nil
	}
}

func (e *Engine) tick(epoch uint64) {
	e.mu.Lock()
	if epoch != e.epoch || e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	if e.remaining > 0 {
		e.remaining--
	}
	remaining := e.remaining
	if remaining > 0 {
		e.armCountdown(epoch)
	}
	e.mu.Unlock()

	e.publish(Event{Type: EventTick, TimeRemaining: remaining})
	if remaining == 0 {
		e.finish(ReasonTimeout)
	}
}

func (e *Engine) generate(epoch uint64) {
	e.mu.Lock()
	if epoch != e.epoch || e.state != StateRunning || e.count >= e.cfg.MaxMessages {
		e.mu.Unlock()
		return
	}
	e.generation = nil
	index := e.count
	speaker := e.participants[index%len(e.participants)]
	turn := Turn{
		Config:       e.cfg,
		Index:        index,
		Speaker:      speaker,
		Participants: append([]Participant(nil), e.participants...),
		History:      append([]model.ChatMessage(nil), e.messages...),
	}
	ctx := e.ctx
	log := e.log
	convID := e.conv.ID
	frequency := time.Duration(e.cfg.MessageFrequency) * time.Second
	e.mu.Unlock()

	content, err := e.deps.Generator.Generate(ctx, turn)
	if err != nil {
		log.Error("Message generation failed",
			zap.String("speaker", speaker.ID),
			zap.Int("turn", index),
			zap.Error(err),
		)
		e.publish(Event{Type: EventError, Error: err.Error()})

		e.mu.Lock()
		if epoch == e.epoch && e.state == StateRunning {
			e.armGeneration(epoch, frequency)
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	if epoch != e.epoch || e.state != StateRunning {
		e.mu.Unlock()
		log.Debug("Discarding turn generated across a pause or end", zap.Int("turn", index))
		return
	}
	msg := model.ChatMessage{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: convID,
		Content:        content,
		Sender:         model.SenderLocrit,
		SenderID:       speaker.ID,
		SenderName:     speaker.Name,
		Timestamp:      e.deps.Clock.Now(),
	}
	e.messages = append(e.messages, msg)
	e.count++
	e.speaker = speaker.ID
	exhausted := e.count >= e.cfg.MaxMessages
	if !exhausted {
		e.armGeneration(epoch, frequency)
	}
	remaining := e.remaining
	e.mu.Unlock()

	metrics.RecordGenerated(string(turn.Config.Style), e.deps.Generator.Name())
	e.publish(Event{Type: EventMessage, Message: &msg, TimeRemaining: remaining})

	pctx, cancel := context.WithTimeout(ctx, persistenceTimeout)
	if _, err := e.deps.Messages.SendMessage(pctx, &msg); err != nil {
		metrics.RecordPersistenceFailure("send_message")
		log.Error("Failed to persist message", zap.String("message_id", msg.ID), zap.Error(err))
		e.publish(Event{Type: EventError, Error: fmt.Sprintf("persisting message: %v", err)})
	}
	cancel()

	if exhausted {
		e.finish(ReasonMaxMessages)
	}
}

// Pause suspends a running conversation.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.epoch++
	e.stopTimers()
	e.state = StatePaused
	remaining := e.remaining
	log := e.log
	e.mu.Unlock()

	log.Info("Scheduled conversation paused", zap.Int("time_remaining", remaining))
	e.publish(Event{Type: EventState, State: StatePaused, TimeRemaining: remaining})
	return nil
}

// Resume continues a paused conversation. Both intervals restart from zero.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	e.epoch++
	e.state = StateRunning
	epoch := e.epoch
	e.armCountdown(epoch)
	if e.count < e.cfg.MaxMessages {
		e.armGeneration(epoch, time.Duration(e.cfg.MessageFrequency)*time.Second)
	}
	remaining := e.remaining
	log := e.log
	e.mu.Unlock()

	log.Info("Scheduled conversation resumed", zap.Int("time_remaining", remaining))
	e.publish(Event{Type: EventState, State: StateRunning, TimeRemaining: remaining})
	return nil
}

// End stops the run and marks its record ended. It is a no-op unless the
// engine is running or paused. A persistence failure is returned after the
// engine has already ended.
func (e *Engine) End(ctx context.Context) error {
	return e.end(ctx, ReasonStopped)
}

func (e *Engine) finish(reason string) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = e.end(ctx, reason)
}

func (e *Engine) end(ctx context.Context, reason string) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return nil
	}
	e.epoch++
	e.stopTimers()

	conv := *e.conv
	count := e.count
	now := e.deps.Clock.Now()
	model.EndedPatch(count, now).Apply(&conv, now)

	e.state = StateEnded
	e.conv = nil
	e.messages = nil
	e.remaining = 0
	e.count = 0
	e.speaker = ""
	e.participants = nil
	e.last = &conv
	log := e.log
	e.mu.Unlock()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistenceTimeout)
	defer cancel()

	var err error
	if uerr := e.deps.Conversations.UpdateConversation(pctx, conv.ID, model.EndedPatch(count, now)); uerr != nil {
		metrics.RecordPersistenceFailure("update_conversation")
		log.Error("Failed to mark conversation ended", zap.Error(uerr))
		e.publish(Event{Type: EventError, Error: fmt.Sprintf("ending conversation: %v", uerr)})
		err = fmt.Errorf("ending conversation: %w", uerr)
	}

	metrics.RecordRunEnded(reason)
	log.Info("Scheduled conversation ended",
		zap.String("reason", reason),
		zap.Int("message_count", count),
	)
	e.publish(Event{Type: EventState, State: StateEnded, Reason: reason})
	e.closeSubscribers()

	if e.deps.OnEnd != nil {
		e.deps.OnEnd(conv, reason)
	}
	return err
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the live state.
func (e *Engine) Snapshot() LiveState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := LiveState{
		State:          e.state,
		IsRunning:      e.state == StateRunning,
		Messages:       append([]model.ChatMessage{}, e.messages...),
		TimeRemaining:  e.remaining,
		Formatted:      FormatTime(e.remaining),
		MessageCount:   e.count,
		CurrentSpeaker: e.speaker,
		Participants:   append([]Participant(nil), e.participants...),
	}
	if e.conv != nil {
		conv := *e.conv
		conv.MessageCount = e.count
		s.Conversation = &conv
	}
	switch e.state {
	case StateConfiguring:
		cfg := e.draft
		s.Config = &cfg
	case StateRunning, StatePaused:
		cfg := e.cfg
		s.Config = &cfg
	}
	return s
}

// LastConversation returns the record of the most recently ended run.
func (e *Engine) LastConversation() (model.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return model.Conversation{}, false
	}
	return *e.last, true
}

// Subscribe returns a feed of engine events and a function that closes it.
// Slow subscribers miss events rather than blocking the engine. Feeds close
// when the run ends.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// closeSubscribers ends every feed. A subscriber that missed the ended event
// still sees its channel close.
func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
