package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/middleware"
	"github.com/locrit/platform/internal/service"
	"github.com/locrit/platform/pkg/logger"
)

// MessageHandler handles Locrit and message history endpoints.
type MessageHandler struct {
	service *service.MessageService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// Locrits handles GET /api/v1/locrits
func (h *MessageHandler) Locrits(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Locrits(r.Context())
	if err != nil {
		h.logger.Error("failed to list locrits", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list locrits")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// LocritMessages handles GET /api/v1/locrits/{id}/messages
func (h *MessageHandler) LocritMessages(w http.ResponseWriter, r *http.Request) {
	locritID := chi.URLParam(r, "id")

	if err := middleware.ValidateLocritID(locritID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset := pageParams(r)
	resp, err := h.service.LocritMessages(r.Context(), locritID, limit, offset)
	if errors.Is(err, service.ErrLocritNotFound) {
		writeError(w, http.StatusNotFound, "locrit not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get messages", zap.String("locrit_id", locritID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ConversationMessages handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset := pageParams(r)
	resp, err := h.service.ConversationMessages(r.Context(), conversationID, limit, offset)
	if errors.Is(err, service.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get messages", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
