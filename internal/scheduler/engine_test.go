package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locrit/platform/internal/clock"
	"github.com/locrit/platform/internal/directory"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
)

// spyStore counts writes and can be told to fail them.
type spyStore struct {
	*store.MemoryStore

	mu          sync.Mutex
	creates     int
	updates     int
	sends       int
	failSends   bool
	failUpdates bool
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *spyStore) CreateConversation(ctx context.Context, conv *model.Conversation) (string, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.MemoryStore.CreateConversation(ctx, conv)
}

func (s *spyStore) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	s.mu.Lock()
	s.updates++
	fail := s.failUpdates
	s.mu.Unlock()
	if fail {
		return errors.New("store offline")
	}
	return s.MemoryStore.UpdateConversation(ctx, id, patch)
}

func (s *spyStore) SendMessage(ctx context.Context, msg *model.ChatMessage) (string, error) {
	s.mu.Lock()
	s.sends++
	fail := s.failSends
	s.mu.Unlock()
	if fail {
		return "", errors.New("store offline")
	}
	return s.MemoryStore.SendMessage(ctx, msg)
}

func (s *spyStore) counts() (creates, updates, sends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.updates, s.sends
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Generate(ctx context.Context, turn Turn) (string, error) {
	return "", errors.New("model unavailable")
}

type ended struct {
	conv   model.Conversation
	reason string
}

type harness struct {
	engine *Engine
	store  *spyStore
	clock  *clock.Fake
	ended  []ended
}

func newHarness(t *testing.T, gen Generator) *harness {
	t.Helper()

	h := &harness{
		store: newSpyStore(),
		clock: clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	dir := directory.NewStatic(
		model.Locrit{ID: "a", Name: "Alice", Description: "a friendly guide"},
		model.Locrit{ID: "b", Name: "Bob", Description: "tech expert"},
		model.Locrit{ID: "c", Name: "Cleo"},
	)
	h.engine = NewEngine(Deps{
		Conversations: h.store,
		Messages:      h.store,
		Directory:     dir,
		Generator:     gen,
		Clock:         h.clock,
		OnEnd: func(conv model.Conversation, reason string) {
			h.ended = append(h.ended, ended{conv: conv, reason: reason})
		},
	})
	return h
}

func validConfig() Config {
	return Config{
		Title:            "Morning chat",
		Topic:            "coffee",
		Duration:         5,
		Participants:     []string{"a", "b"},
		MessageFrequency: 10,
		MaxMessages:      20,
		Style:            model.StyleCasual,
	}
}

func TestStartInitializesLiveState(t *testing.T) {
	h := newHarness(t, nil)

	conv, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, model.StatusActive, conv.Status)
	assert.True(t, conv.IsActive)
	assert.Equal(t, model.ConversationTypeScheduled, conv.Type)

	snap := h.engine.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.True(t, snap.IsRunning)
	assert.Equal(t, 300, snap.TimeRemaining)
	assert.Equal(t, "5:00", snap.Formatted)
	assert.Equal(t, "a", snap.CurrentSpeaker)
	assert.Zero(t, snap.MessageCount)

	stored, err := h.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Morning chat", stored.Title)
}

func TestStartRejectsInvalidConfigWithoutPersisting(t *testing.T) {
	h := newHarness(t, nil)

	cfg := validConfig()
	cfg.Participants = []string{"a"}
	cfg.Title = ""

	_, err := h.engine.Start(context.Background(), cfg)
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)

	creates, _, _ := h.store.counts()
	assert.Zero(t, creates)
	assert.Equal(t, StateConfiguring, h.engine.State())
	assert.Zero(t, h.clock.Pending())
}

func TestStartRejectsUnknownParticipant(t *testing.T) {
	h := newHarness(t, nil)

	cfg := validConfig()
	cfg.Participants = []string{"a", "ghost"}

	_, err := h.engine.Start(context.Background(), cfg)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "ghost")

	creates, _, _ := h.store.counts()
	assert.Zero(t, creates)
}

func TestStartWhileRunning(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)

	_, err = h.engine.Start(context.Background(), validConfig())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, h.engine.Configure(validConfig()), ErrAlreadyRunning)
}

func TestRoundRobinTurnOrder(t *testing.T) {
	h := newHarness(t, nil)

	cfg := validConfig()
	cfg.Participants = []string{"a", "b", "c"}
	_, err := h.engine.Start(context.Background(), cfg)
	require.NoError(t, err)

	h.clock.Advance(0)
	for i := 0; i < 4; i++ {
		h.clock.Advance(10 * time.Second)
	}

	snap := h.engine.Snapshot()
	require.Len(t, snap.Messages, 5)

	var senders []string
	for _, m := range snap.Messages {
		senders = append(senders, m.SenderID)
		assert.Equal(t, model.SenderLocrit, m.Sender)
		assert.Equal(t, snap.Conversation.ID, m.ConversationID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b"}, senders)
	assert.Equal(t, "b", snap.CurrentSpeaker)
	assert.Equal(t, 5, snap.MessageCount)
	assert.Equal(t, 260, snap.TimeRemaining)

	persisted, err := h.store.GetConversationMessages(context.Background(), snap.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 5)
}

func TestGeneratedMessagesUseTemplates(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)

	snap := h.engine.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Honestly, I've been thinking a lot about coffee lately. What's your take? 😊", snap.Messages[0].Content)
	assert.Equal(t, "Ha, that's a fun angle on coffee! I see it a bit differently though. 🔧", snap.Messages[1].Content)
	assert.Equal(t, "Alice", snap.Messages[0].SenderName)
}

func TestTimeoutEndsRun(t *testing.T) {
	h := newHarness(t, nil)

	cfg := validConfig()
	cfg.Duration = 1
	conv, err := h.engine.Start(context.Background(), cfg)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	snap := h.engine.Snapshot()
	assert.Equal(t, 30, snap.TimeRemaining)
	assert.LessOrEqual(t, snap.MessageCount, cfg.MaxMessages)

	h.clock.Advance(30 * time.Second)
	assert.Equal(t, StateEnded, h.engine.State())
	assert.Zero(t, h.clock.Pending())

	require.Len(t, h.ended, 1)
	assert.Equal(t, ReasonTimeout, h.ended[0].reason)

	stored, err := h.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, stored.Status)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.EndedAt)

	persisted, err := h.store.GetConversationMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, len(persisted), stored.MessageCount)
}

func TestMaxMessagesEndsRun(t *testing.T) {
	h := newHarness(t, nil)

	cfg := validConfig()
	cfg.MaxMessages = 3
	cfg.MessageFrequency = 1
	conv, err := h.engine.Start(context.Background(), cfg)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Second)

	assert.Equal(t, StateEnded, h.engine.State())
	require.Len(t, h.ended, 1)
	assert.Equal(t, ReasonMaxMessages, h.ended[0].reason)
	assert.Equal(t, 3, h.ended[0].conv.MessageCount)

	_, _, sends := h.store.counts()
	assert.Equal(t, 3, sends)

	stored, err := h.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MessageCount)
	assert.Equal(t, model.StatusEnded, stored.Status)
}

func TestPauseHaltsTimers(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(3 * time.Second)

	require.NoError(t, h.engine.Pause())
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(10 * time.Minute)
	snap := h.engine.Snapshot()
	assert.Equal(t, StatePaused, snap.State)
	assert.False(t, snap.IsRunning)
	assert.Equal(t, 297, snap.TimeRemaining)
	assert.Equal(t, 1, snap.MessageCount)

	assert.ErrorIs(t, h.engine.Pause(), ErrNotRunning)

	require.NoError(t, h.engine.Resume())
	assert.ErrorIs(t, h.engine.Resume(), ErrNotPaused)

	h.clock.Advance(9 * time.Second)
	assert.Equal(t, 1, h.engine.Snapshot().MessageCount)

	h.clock.Advance(time.Second)
	snap = h.engine.Snapshot()
	assert.Equal(t, 287, snap.TimeRemaining)
	assert.Equal(t, 2, snap.MessageCount)
	assert.Equal(t, "b", snap.CurrentSpeaker)
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.engine.End(context.Background()))
	_, updates, _ := h.store.counts()
	assert.Zero(t, updates)

	conv, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(0)

	require.NoError(t, h.engine.End(context.Background()))
	require.NoError(t, h.engine.End(context.Background()))

	_, updates, _ = h.store.counts()
	assert.Equal(t, 1, updates)
	require.Len(t, h.ended, 1)
	assert.Equal(t, ReasonStopped, h.ended[0].reason)

	last, ok := h.engine.LastConversation()
	require.True(t, ok)
	assert.Equal(t, conv.ID, last.ID)
	assert.Equal(t, model.StatusEnded, last.Status)
	assert.Equal(t, 1, last.MessageCount)
}

func TestEndFromPaused(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	require.NoError(t, h.engine.Pause())
	require.NoError(t, h.engine.End(context.Background()))

	assert.Equal(t, StateEnded, h.engine.State())
	require.Len(t, h.ended, 1)
}

func TestEndResetsLiveState(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.engine.End(context.Background()))

	snap := h.engine.Snapshot()
	assert.Equal(t, StateEnded, snap.State)
	assert.False(t, snap.IsRunning)
	assert.Nil(t, snap.Conversation)
	assert.Empty(t, snap.Messages)
	assert.Zero(t, snap.TimeRemaining)
	assert.Zero(t, snap.MessageCount)
	assert.Empty(t, snap.CurrentSpeaker)
	assert.Zero(t, h.clock.Pending())

	// a fresh run may follow
	_, err = h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, h.engine.State())
}

func TestEndReturnsPersistenceFailure(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)

	h.store.mu.Lock()
	h.store.failUpdates = true
	h.store.mu.Unlock()

	err = h.engine.End(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateEnded, h.engine.State())
	require.Len(t, h.ended, 1)
}

func TestMessagePersistenceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failSends = true

	events, cancel := h.engine.Subscribe(64)
	defer cancel()

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(0)

	assert.Equal(t, StateRunning, h.engine.State())
	assert.Equal(t, 1, h.engine.Snapshot().MessageCount)

	var types []EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []EventType{EventState, EventMessage, EventError}, types)
}

func TestGeneratorFailureRetriesWithoutCounting(t *testing.T) {
	h := newHarness(t, failingGenerator{})

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(25 * time.Second)

	snap := h.engine.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Zero(t, snap.MessageCount)
	assert.Equal(t, 275, snap.TimeRemaining)

	_, _, sends := h.store.counts()
	assert.Zero(t, sends)
}

func TestSubscribePublishesLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	events, cancel := h.engine.Subscribe(64)

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.End(context.Background()))

	var got []Event
	for len(events) > 0 {
		got = append(got, <-events)
	}
	require.Len(t, got, 4)
	assert.Equal(t, EventState, got[0].Type)
	assert.Equal(t, StateRunning, got[0].State)
	assert.Equal(t, EventMessage, got[1].Type)
	assert.Equal(t, EventTick, got[2].Type)
	assert.Equal(t, 299, got[2].TimeRemaining)
	assert.Equal(t, StateEnded, got[3].State)
	assert.Equal(t, ReasonStopped, got[3].Reason)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestEndClosesSlowSubscribers(t *testing.T) {
	h := newHarness(t, nil)

	// room for the start event only; message, tick and ended are dropped
	events, cancel := h.engine.Subscribe(1)
	defer cancel()

	_, err := h.engine.Start(context.Background(), validConfig())
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.End(context.Background()))

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, StateRunning, got[0].State)
}
