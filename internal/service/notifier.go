package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/anonchat/match-server-go/internal/sse"
)

// Notifier delivers lifecycle events to participants. All methods are
// called strictly after the transaction that produced the event has
// committed, so a notified client never observes state that later rolls
// back. Delivery is best-effort except Message, whose failure the relay
// treats as an unreachable partner.
type Notifier interface {
	Matched(ctx context.Context, participantIDs []string, sessionID string)
	GroupMatched(ctx context.Context, participantID string, groupID string, memberCount int)
	GroupMemberJoined(ctx context.Context, participantIDs []string, groupID string, memberCount int)
	GroupMemberLeft(ctx context.Context, participantIDs []string, groupID string, memberCount int)
	GroupDissolved(ctx context.Context, participantID string, groupID string)
	PartnerLeft(ctx context.Context, participantID string)
	Message(ctx context.Context, participantID string, from string, text string) error
}

type sseNotifier struct {
	broker *sse.Broker
}

func NewNotifier(broker *sse.Broker) Notifier {
	return &sseNotifier{broker: broker}
}

func (n *sseNotifier) publish(ctx context.Context, participantID string, event sse.Event) {
	if err := n.broker.Publish(ctx, participantID, event); err != nil {
		log.Error().Err(err).
			Str("participantId", participantID).
			Str("eventType", event.Type).
			Msg("failed to publish event")
	}
}

func (n *sseNotifier) Matched(ctx context.Context, participantIDs []string, sessionID string) {
	event := sse.NewEvent(sse.EventMatched, sse.MatchedPayload{SessionID: sessionID})
	for _, id := range participantIDs {
		n.publish(ctx, id, event)
	}
}

func (n *sseNotifier) GroupMatched(ctx context.Context, participantID string, groupID string, memberCount int) {
	event := sse.NewEvent(sse.EventMatched, sse.MatchedPayload{GroupID: groupID, MemberCount: memberCount})
	n.publish(ctx, participantID, event)
}

func (n *sseNotifier) GroupMemberJoined(ctx context.Context, participantIDs []string, groupID string, memberCount int) {
	event := sse.NewEvent(sse.EventGroupMemberJoined, sse.GroupPayload{GroupID: groupID, MemberCount: memberCount})
	for _, id := range participantIDs {
		n.publish(ctx, id, event)
	}
}

func (n *sseNotifier) GroupMemberLeft(ctx context.Context, participantIDs []string, groupID string, memberCount int) {
	event := sse.NewEvent(sse.EventGroupMemberLeft, sse.GroupPayload{GroupID: groupID, MemberCount: memberCount})
	for _, id := range participantIDs {
		n.publish(ctx, id, event)
	}
}

func (n *sseNotifier) GroupDissolved(ctx context.Context, participantID string, groupID string) {
	event := sse.NewEvent(sse.EventGroupDissolved, sse.GroupPayload{GroupID: groupID, MemberCount: 0})
	n.publish(ctx, participantID, event)
}

func (n *sseNotifier) PartnerLeft(ctx context.Context, participantID string) {
	event := sse.NewEvent(sse.EventPartnerLeft, struct{}{})
	n.publish(ctx, participantID, event)
}

func (n *sseNotifier) Message(ctx context.Context, participantID string, from string, text string) error {
	event := sse.NewEvent(sse.EventMessage, sse.MessagePayload{From: from, Text: text})
	return n.broker.Publish(ctx, participantID, event)
}
