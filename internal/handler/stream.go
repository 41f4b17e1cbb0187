package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/middleware"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/scheduler"
	"github.com/locrit/platform/internal/service"
	"github.com/locrit/platform/pkg/logger"
	"github.com/locrit/platform/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   *service.ScheduledService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.ScheduledService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// stateEvent is the payload of "state" SSE events.
type stateEvent struct {
	State  scheduler.State `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Run    *service.Run    `json:"run,omitempty"`
}

// Stream handles GET /api/v1/scheduled/{id}/stream
// The first event carries the full run; later events are incremental. The
// stream closes after the run ends.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// subscribe before the snapshot so no event falls in between
	events, cancel, subErr := h.service.Subscribe(id, 64)
	if subErr == nil {
		defer cancel()
	}

	run, err := h.service.Get(ctx, id)
	if errors.Is(err, service.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "scheduled conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load scheduled conversation", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scheduled conversation")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "state", &stateEvent{State: run.State, Run: run})

	// finished runs have nothing more to say
	if subErr != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", id))
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})

		case ev, open := <-events:
			if !open {
				// the run ended while this client was too slow to get the event
				sendSSEEvent(w, flusher, "state", &stateEvent{State: scheduler.StateEnded})
				return
			}
			if err := h.forward(w, flusher, ev); err != nil {
				h.logger.Warn("failed to write SSE event", zap.Error(err))
				return
			}
			if ev.Type == scheduler.EventState && ev.State == scheduler.StateEnded {
				return
			}
		}
	}
}

func (h *StreamHandler) forward(w http.ResponseWriter, flusher http.Flusher, ev scheduler.Event) error {
	switch ev.Type {
	case scheduler.EventMessage:
		return sendSSEEvent(w, flusher, "message", ev.Message)
	case scheduler.EventTick:
		return sendSSEEvent(w, flusher, "tick", &model.TickEvent{
			TimeRemaining: ev.TimeRemaining,
			Formatted:     scheduler.FormatTime(ev.TimeRemaining),
		})
	case scheduler.EventState:
		return sendSSEEvent(w, flusher, "state", &stateEvent{State: ev.State, Reason: ev.Reason})
	case scheduler.EventError:
		return sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    "engine_error",
			Message: ev.Error,
		})
	}
	return nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
