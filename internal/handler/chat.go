package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fastfollow-ai/followup-platform/internal/cache"
	"github.com/fastfollow-ai/followup-platform/internal/conversation"
	"github.com/fastfollow-ai/followup-platform/internal/middleware"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
)

// ChatHandler handles ask/select/reset/layer endpoints.
type ChatHandler struct {
	service *conversation.SessionService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *conversation.SessionService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

func (h *ChatHandler) controller(w http.ResponseWriter, r *http.Request) (*conversation.Controller, bool) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	ctrl, err := h.service.Controller(tenantID, sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return ctrl, true
}

// Ask handles POST /api/v1/sessions/:id/ask
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req model.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, layer, err := ctrl.Ask(r.Context(), req.Question)
	if err != nil {
		// The main answer is the one call the user is waiting on; its
		// failure surfaces directly so the client can offer a retry.
		h.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}

	writeJSON(w, http.StatusOK, &model.AskResponse{
		Turn:  turn,
		Layer: layer,
	})
}

// Select handles POST /api/v1/sessions/:id/select
func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req model.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateCandidateID(req.CandidateID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, source, layer, err := ctrl.Select(r.Context(), req.CandidateID, req.Question)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			writeError(w, http.StatusNotFound, "candidate not in live layer")
			return
		}
		h.logger.Error("select failed", "candidate_id", req.CandidateID, "error", err)
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}

	writeJSON(w, http.StatusOK, &model.SelectResponse{
		Turn:   turn,
		Source: source,
		Layer:  layer,
	})
}

// Reset handles POST /api/v1/sessions/:id/reset
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	ctrl.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Layer handles GET /api/v1/sessions/:id/layer
func (h *ChatHandler) Layer(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	layer := ctrl.LayerView()
	if layer == nil {
		layer = &model.LayerView{Buttons: []model.ButtonState{}}
	}

	writeJSON(w, http.StatusOK, layer)
}
