package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/middleware"
	"github.com/anonchat/match-server-go/internal/service"
	"github.com/anonchat/match-server-go/internal/sse"
)

type EventsHandler struct {
	broker       *sse.Broker
	participants *service.ParticipantService
}

func NewEventsHandler(broker *sse.Broker, participants *service.ParticipantService) *EventsHandler {
	return &EventsHandler{
		broker:       broker,
		participants: participants,
	}
}

// ServeHTTP streams lifecycle and message events to the participant.
// The connected event carries the current conversation state so a
// reconnecting client knows where it stands without an extra request.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	if participant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(participant.ID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("participantId", participant.ID).
		Msg("sse connection established")

	ctx := r.Context()

	state, err := h.participants.State(ctx, participant.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load state for connected event")
	}

	h.sendEvent(w, flusher, "connected", fmt.Sprintf(`{"participantId":%q,"state":%q}`, participant.ID, state))

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("participantId", participant.ID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("participantId", participant.ID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("participantId", participant.ID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(event.Data)); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
