package sse

import "encoding/json"

// Event types delivered to clients over SSE. A participant entering a
// conversation always receives "matched", whether it is a 1:1 session
// or a group; members already inside a group see joins and departures
// as the group_* events.
const (
	EventMatched           = "matched"
	EventGroupMemberJoined = "group_member_joined"
	EventGroupMemberLeft   = "group_member_left"
	EventGroupDissolved    = "group_dissolved"
	EventPartnerLeft       = "partner_left"
	EventMessage           = "message"
)

type MatchedPayload struct {
	SessionID   string `json:"sessionId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	MemberCount int    `json:"memberCount,omitempty"`
}

type GroupPayload struct {
	GroupID     string `json:"groupId"`
	MemberCount int    `json:"memberCount"`
}

type MessagePayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// NewEvent marshals the payload; marshalling of local structs does not
// fail, so errors are swallowed rather than threaded through callers.
func NewEvent(eventType string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Data: data}
}
