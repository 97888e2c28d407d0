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

type ChatHandler struct {
	sessions *service.SessionManager
	relay    *service.RelayService
}

func NewChatHandler(sessions *service.SessionManager, relay *service.RelayService) *ChatHandler {
	return &ChatHandler{sessions: sessions, relay: relay}
}

// Leave ends the caller's conversation. Leaving twice, or leaving with
// no conversation at all, succeeds with an empty result.
func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	result, err := h.sessions.Terminate(r.Context(), participant.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSessionEnd,
		ParticipantID: participant.ID,
		Details:       map[string]interface{}{"wasGroup": result.WasGroup},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"state":    model.StateIdle,
		"wasGroup": result.WasGroup,
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage relays text to everyone else in the caller's
// conversation. Recipient identities stay hidden; the response only
// says how many people got the message.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	recipients, err := h.relay.SendMessage(r.Context(), participant.ID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": len(recipients),
	})
}
