package model

import "time"

type Participant struct {
	ID           string     `db:"id" json:"id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	Gender       Gender     `db:"gender" json:"gender"`
	SeekGender   SeekGender `db:"seek_gender" json:"seekGender"`
	Premium      bool       `db:"premium" json:"premium"`
	MessageCount int        `db:"message_count" json:"messageCount"`
	SessionCount int        `db:"session_count" json:"sessionCount"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	LastSeenAt   time.Time  `db:"last_seen_at" json:"lastSeenAt"`
}

type UpsertParticipantParams struct {
	ID        string
	TokenHash string
}

// SystemStats are the aggregate counters shown on the stats screen.
type SystemStats struct {
	TotalParticipants int `db:"total_participants" json:"totalParticipants"`
	Searching         int `db:"searching" json:"searching"`
	ActiveSessions    int `db:"active_sessions" json:"activeSessions"`
	ActiveGroups      int `db:"active_groups" json:"activeGroups"`
}
