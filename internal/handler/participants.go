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

type ParticipantHandler struct {
	participants *service.ParticipantService
}

func NewParticipantHandler(participants *service.ParticipantService) *ParticipantHandler {
	return &ParticipantHandler{participants: participants}
}

type registerRequest struct {
	ID string `json:"id"`
}

type registerResponse struct {
	Participant *model.Participant `json:"participant"`
	Token       string             `json:"token"`
}

// Register creates a participant or rotates the token of an existing
// one. The token is returned exactly once.
func (h *ParticipantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	participant, token, err := h.participants.Register(r.Context(), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventRegister,
		ParticipantID: participant.ID,
	})

	writeJSON(w, http.StatusCreated, registerResponse{
		Participant: participant,
		Token:       token,
	})
}

type profileRequest struct {
	Gender     model.Gender     `json:"gender"`
	SeekGender model.SeekGender `json:"seekGender"`
}

func (h *ParticipantHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.SeekGender == "" {
		req.SeekGender = model.SeekAny
	}

	updated, err := h.participants.UpdateProfile(r.Context(), participant.ID, req.Gender, req.SeekGender)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ParticipantHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())

	state, err := h.participants.State(r.Context(), participant.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participant": participant,
		"state":       state,
	})
}

func (h *ParticipantHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.participants.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
