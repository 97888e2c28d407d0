package util

import "regexp"

// Participant ids come from transport adapters (numeric chat ids,
// uuids, opaque handles). Bound the alphabet and length so they are
// safe to embed in redis channel names and log lines.
var participantIDRegex = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,64}$`)

func IsValidParticipantID(s string) bool {
	return participantIDRegex.MatchString(s)
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
