package model

import "time"

// QueueEntry is a waiting search request. Gender and preference are
// snapshotted into the row at enqueue time so candidate scans need no
// join against the participant table.
type QueueEntry struct {
	ParticipantID string     `db:"participant_id" json:"participantId"`
	Mode          QueueMode  `db:"mode" json:"mode"`
	Gender        Gender     `db:"gender" json:"gender"`
	SeekGender    SeekGender `db:"seek_gender" json:"seekGender"`
	JoinedAt      time.Time  `db:"joined_at" json:"joinedAt"`
}

type EnqueueParams struct {
	ParticipantID string
	Mode          QueueMode
	Gender        Gender
	SeekGender    SeekGender
}
