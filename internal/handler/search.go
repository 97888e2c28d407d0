package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/anonchat/match-server-go/internal/errors"

	"github.com/anonchat/match-server-go/internal/audit"
	"github.com/anonchat/match-server-go/internal/middleware"
	"github.com/anonchat/match-server-go/internal/model"
	"github.com/anonchat/match-server-go/internal/service"
)

type SearchHandler struct {
	matcher *service.MatchService
}

func NewSearchHandler(matcher *service.MatchService) *SearchHandler {
	return &SearchHandler{matcher: matcher}
}

type joinSearchRequest struct {
	Mode model.QueueMode `json:"mode"`
}

// Join puts the caller into the search queue. If a partner is available
// the match happens inline and the response already carries the new
// conversation; otherwise the caller waits for a matched event on the
// SSE stream.
func (h *SearchHandler) Join(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	var req joinSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.Mode == "" {
		req.Mode = model.QueueModeRandom
	}

	result, err := h.matcher.JoinSearch(r.Context(), participant, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSearchJoin,
		ParticipantID: participant.ID,
		Details:       map[string]interface{}{"mode": string(req.Mode)},
	})

	writeJSON(w, http.StatusOK, result)
}

// Cancel is idempotent: cancelling with nothing queued is a no-op.
func (h *SearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	if err := h.matcher.CancelSearch(r.Context(), participant.ID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSearchCancel,
		ParticipantID: participant.ID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"state": model.StateIdle})
}
