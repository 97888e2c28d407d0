package model

import (
	"time"

	"github.com/lib/pq"
)

// GroupSession is a conversation of up to three members. Unlike 1:1
// sessions it may sit in a forming state with a single member while
// waiting for backfill; two members make it conversational.
type GroupSession struct {
	ID           string         `db:"id" json:"id"`
	GroupType    GroupType      `db:"group_type" json:"groupType"`
	Participants pq.StringArray `db:"participants" json:"participants"`
	IsActive     bool           `db:"is_active" json:"isActive"`
	StartedAt    time.Time      `db:"started_at" json:"startedAt"`
	EndedAt      *time.Time     `db:"ended_at" json:"endedAt,omitempty"`
	MessageCount int            `db:"message_count" json:"messageCount"`
}

func (g *GroupSession) Size() int {
	return len(g.Participants)
}

func (g *GroupSession) Has(participantID string) bool {
	for _, id := range g.Participants {
		if id == participantID {
			return true
		}
	}
	return false
}

// Others returns the members of the group excluding the given one.
func (g *GroupSession) Others(participantID string) []string {
	others := make([]string, 0, len(g.Participants))
	for _, id := range g.Participants {
		if id != participantID {
			others = append(others, id)
		}
	}
	return others
}
