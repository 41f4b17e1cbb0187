package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/middleware"
	"github.com/locrit/platform/internal/scheduler"
	"github.com/locrit/platform/internal/service"
	"github.com/locrit/platform/pkg/logger"
)

// ScheduledHandler handles scheduled conversation endpoints.
type ScheduledHandler struct {
	service *service.ScheduledService
	logger  *logger.Logger
}

// NewScheduledHandler creates a new scheduled conversation handler.
func NewScheduledHandler(svc *service.ScheduledService, log *logger.Logger) *ScheduledHandler {
	return &ScheduledHandler{
		service: svc,
		logger:  log,
	}
}

// validationResponse lists every problem of a rejected config.
type validationResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
}

// Start handles POST /api/v1/scheduled
func (h *ScheduledHandler) Start(w http.ResponseWriter, r *http.Request) {
	var cfg scheduler.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTitle(cfg.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTopic(cfg.Topic); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Start(r.Context(), cfg)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("scheduled conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
	)

	w.Header().Set("Location", "/api/v1/scheduled/"+conv.ID)
	w.Header().Set("X-Stream-URL", "/api/v1/scheduled/"+conv.ID+"/stream")
	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/scheduled
func (h *ScheduledHandler) List(w http.ResponseWriter, r *http.Request) {
	runs := h.service.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

// Get handles GET /api/v1/scheduled/{id}
func (h *ScheduledHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Pause handles POST /api/v1/scheduled/{id}/pause
func (h *ScheduledHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.service.Pause)
}

// Resume handles POST /api/v1/scheduled/{id}/resume
func (h *ScheduledHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.service.Resume)
}

// End handles POST /api/v1/scheduled/{id}/end
func (h *ScheduledHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.End(r.Context(), id); err != nil {
		// the run has ended even when the record could not be updated
		if errors.Is(err, service.ErrRunNotFound) {
			h.writeServiceError(w, r, err)
			return
		}
		h.logger.Warn("scheduled conversation ended with persistence error",
			zap.String("conversation_id", id), zap.Error(err))
	}

	h.writeRun(w, r, id)
}

func (h *ScheduledHandler) control(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := fn(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeRun(w, r, id)
}

func (h *ScheduledHandler) writeRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *ScheduledHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scheduler.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Error:    scheduler.ErrValidation.Error(),
			Problems: verr.Problems,
		})
	case errors.Is(err, service.ErrCapacity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrNotRunning),
		errors.Is(err, scheduler.ErrNotPaused),
		errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("scheduled conversation request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
