package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/clock"
	"github.com/locrit/platform/internal/directory"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/scheduler"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/tracing"
)

var (
	// ErrCapacity is returned when the maximum number of live runs is reached.
	ErrCapacity = errors.New("too many scheduled conversations running")
	// ErrRunNotFound is returned for IDs that are neither live nor stored.
	ErrRunNotFound = errors.New("scheduled conversation not found")
)

// ScheduledOptions configures a ScheduledService.
type ScheduledOptions struct {
	Defaults  scheduler.Defaults
	MaxActive int
	Generator scheduler.Generator
	Clock     clock.Clock
}

// Run is the externally visible view of a scheduled conversation.
type Run struct {
	ID string `json:"id"`
	scheduler.LiveState
}

// ScheduledService owns one engine per live scheduled conversation.
type ScheduledService struct {
	store  store.Store
	dir    directory.Directory
	opts   ScheduledOptions
	logger *logger.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	runs    map[string]*scheduler.Engine
	pending int
}

// NewScheduledService creates a new scheduled conversation service.
func NewScheduledService(st store.Store, dir directory.Directory, opts ScheduledOptions, log *logger.Logger) *ScheduledService {
	if opts.MaxActive <= 0 {
		opts.MaxActive = 10
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Generator == nil {
		opts.Generator = scheduler.NewTemplateGenerator(nil)
	}
	return &ScheduledService{
		store:  st,
		dir:    dir,
		opts:   opts,
		logger: log.Component("scheduled"),
		tracer: tracing.Tracer("locrit/service"),
		runs:   make(map[string]*scheduler.Engine),
	}
}

// Start fills cfg from the defaults, validates it and launches a new run.
func (s *ScheduledService) Start(ctx context.Context, cfg scheduler.Config) (*model.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "scheduled.Start",
		trace.WithAttributes(attribute.String("scheduled.title", cfg.Title)))
	defer span.End()

	cfg = cfg.WithDefaults(s.opts.Defaults)
	if err := cfg.Validate(); err != nil {
		return nil, fail(span, err)
	}

	if err := s.reserve(); err != nil {
		return nil, fail(span, err)
	}

	var eng *scheduler.Engine
	eng = scheduler.NewEngine(scheduler.Deps{
		Conversations: s.store,
		Messages:      s.store,
		Directory:     s.dir,
		Generator:     s.opts.Generator,
		Clock:         s.opts.Clock,
		Logger:        s.logger,
		OnEnd: func(conv model.Conversation, reason string) {
			s.forget(conv.ID, eng)
		},
	})

	conv, err := eng.Start(ctx, cfg)

	s.mu.Lock()
	s.pending--
	if err == nil {
		// the run may already be over when Start returns
		if st := eng.State(); st == scheduler.StateRunning || st == scheduler.StatePaused {
			s.runs[conv.ID] = eng
		}
	}
	s.mu.Unlock()

	if err != nil {
		return nil, fail(span, err)
	}

	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int("scheduled.participants", len(cfg.Participants)),
	)
	return conv, nil
}

// reserve claims a slot for a starting run.
func (s *ScheduledService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.runs)+s.pending >= s.opts.MaxActive {
		return fmt.Errorf("%w (limit %d)", ErrCapacity, s.opts.MaxActive)
	}
	s.pending++
	return nil
}

func (s *ScheduledService) forget(id string, eng *scheduler.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs[id] == eng {
		delete(s.runs, id)
	}
}

func (s *ScheduledService) engine(id string) (*scheduler.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.runs[id]
	return eng, ok
}

// List returns the live runs, oldest first.
func (s *ScheduledService) List(ctx context.Context) []Run {
	s.mu.RLock()
	engines := make(map[string]*scheduler.Engine, len(s.runs))
	for id, eng := range s.runs {
		engines[id] = eng
	}
	s.mu.RUnlock()

	runs := make([]Run, 0, len(engines))
	for id, eng := range engines {
		snap := eng.Snapshot()
		if snap.Conversation == nil {
			continue
		}
		runs = append(runs, Run{ID: id, LiveState: snap})
	}
	sort.Slice(runs, func(i, j int) bool {
		a, b := runs[i].Conversation.CreatedAt, runs[j].Conversation.CreatedAt
		if a.Equal(b) {
			return runs[i].ID < runs[j].ID
		}
		return a.Before(b)
	})
	return runs
}

// Get returns a live run, or the stored record of a finished one.
func (s *ScheduledService) Get(ctx context.Context, id string) (*Run, error) {
	if eng, ok := s.engine(id); ok {
		snap := eng.Snapshot()
		if snap.Conversation != nil {
			return &Run{ID: id, LiveState: snap}, nil
		}
	}

	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if conv.Type != model.ConversationTypeScheduled {
		return nil, ErrRunNotFound
	}

	messages, err := s.store.GetConversationMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	state := scheduler.StateIdle
	if conv.Status == model.StatusEnded {
		state = scheduler.StateEnded
	}
	return &Run{
		ID: id,
		LiveState: scheduler.LiveState{
			State:        state,
			Conversation: conv,
			Messages:     messages,
			Formatted:    scheduler.FormatTime(0),
			MessageCount: conv.MessageCount,
		},
	}, nil
}

// Pause suspends a live run.
func (s *ScheduledService) Pause(ctx context.Context, id string) error {
	return s.control(ctx, "scheduled.Pause", id, func(eng *scheduler.Engine) error {
		return eng.Pause()
	})
}

// Resume continues a paused run.
func (s *ScheduledService) Resume(ctx context.Context, id string) error {
	return s.control(ctx, "scheduled.Resume", id, func(eng *scheduler.Engine) error {
		return eng.Resume()
	})
}

// End stops a live run.
func (s *ScheduledService) End(ctx context.Context, id string) error {
	return s.control(ctx, "scheduled.End", id, func(eng *scheduler.Engine) error {
		return eng.End(ctx)
	})
}

func (s *ScheduledService) control(ctx context.Context, name, id string, fn func(*scheduler.Engine) error) error {
	_, span := s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	eng, ok := s.engine(id)
	if !ok {
		return fail(span, ErrRunNotFound)
	}
	if err := fn(eng); err != nil {
		return fail(span, err)
	}
	return nil
}

// Subscribe attaches to the event feed of a live run.
func (s *ScheduledService) Subscribe(id string, buffer int) (<-chan scheduler.Event, func(), error) {
	eng, ok := s.engine(id)
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	events, cancel := eng.Subscribe(buffer)
	return events, cancel, nil
}

// Active returns the number of live runs.
func (s *ScheduledService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Shutdown ends every live run so their records are not left active.
func (s *ScheduledService) Shutdown(ctx context.Context) {
	s.mu.RLock()
	engines := make([]*scheduler.Engine, 0, len(s.runs))
	for _, eng := range s.runs {
		engines = append(engines, eng)
	}
	s.mu.RUnlock()

	for _, eng := range engines {
		if err := eng.End(ctx); err != nil {
			s.logger.Warn("Failed to end scheduled conversation on shutdown", zap.Error(err))
		}
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
