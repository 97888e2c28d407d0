package model

import "time"

// Session is an active or ended 1:1 conversation. It is terminal once
// EndedAt is set.
type Session struct {
	ID           string     `db:"id" json:"id"`
	ParticipantA string     `db:"participant_a" json:"participantA"`
	ParticipantB string     `db:"participant_b" json:"participantB"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	EndedAt      *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	MessageCount int        `db:"message_count" json:"messageCount"`
}

// Peer returns the other side of the session, or "" if the given
// participant is not part of it.
func (s *Session) Peer(participantID string) string {
	switch participantID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	default:
		return ""
	}
}

func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// ActiveEntry maps a participant to the conversation it is in. The
// index is written in the same transaction as every session or group
// membership change.
type ActiveEntry struct {
	ParticipantID string  `db:"participant_id" json:"participantId"`
	RefKind       RefKind `db:"ref_kind" json:"refKind"`
	RefID         string  `db:"ref_id" json:"refId"`
}
