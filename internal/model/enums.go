package model

type Gender string

const (
	GenderUnknown Gender = "unknown"
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
)

func (g Gender) Known() bool {
	return g == GenderMale || g == GenderFemale
}

// Opposite returns the other known gender. Unknown maps to unknown.
func (g Gender) Opposite() Gender {
	switch g {
	case GenderMale:
		return GenderFemale
	case GenderFemale:
		return GenderMale
	default:
		return GenderUnknown
	}
}

// SeekGender is a participant's target preference for matching.
type SeekGender string

const (
	SeekAny    SeekGender = "any"
	SeekMale   SeekGender = "male"
	SeekFemale SeekGender = "female"
)

// Accepts reports whether a participant with this preference is willing
// to be matched with someone of the given gender.
func (s SeekGender) Accepts(g Gender) bool {
	return s == SeekAny || string(s) == string(g)
}

func SeekFor(g Gender) SeekGender {
	switch g {
	case GenderMale:
		return SeekMale
	case GenderFemale:
		return SeekFemale
	default:
		return SeekAny
	}
}

type QueueMode string

const (
	QueueModeRandom        QueueMode = "random"
	QueueModeTargeted      QueueMode = "targeted"
	QueueModeGroupRandom   QueueMode = "group_random"
	QueueModeGroupTargeted QueueMode = "group_targeted"
)

func (m QueueMode) IsGroup() bool {
	return m == QueueModeGroupRandom || m == QueueModeGroupTargeted
}

func (m QueueMode) Valid() bool {
	switch m {
	case QueueModeRandom, QueueModeTargeted, QueueModeGroupRandom, QueueModeGroupTargeted:
		return true
	}
	return false
}

// ConversationState is a participant's local view of the matchmaking
// lifecycle, persisted independently of any transport session.
type ConversationState string

const (
	StateIdle      ConversationState = "idle"
	StateSearching ConversationState = "searching"
	StateChatting  ConversationState = "chatting"
)

type GroupType string

const (
	GroupTypeRandom GroupType = "random"

	// GroupTypeMaleSeekers groups hold males looking for females;
	// backfill candidates must therefore be female. The symmetric
	// case holds for GroupTypeFemaleSeekers.
	GroupTypeMaleSeekers   GroupType = "male_seekers"
	GroupTypeFemaleSeekers GroupType = "female_seekers"
)

// SeekerTypeFor returns the typed group a seeker of the given gender starts.
func SeekerTypeFor(g Gender) GroupType {
	switch g {
	case GenderMale:
		return GroupTypeMaleSeekers
	case GenderFemale:
		return GroupTypeFemaleSeekers
	default:
		return GroupTypeRandom
	}
}

// AcceptedGender returns the gender a typed group accepts as new members,
// or unknown when the group accepts anyone.
func (t GroupType) AcceptedGender() Gender {
	switch t {
	case GroupTypeMaleSeekers:
		return GenderFemale
	case GroupTypeFemaleSeekers:
		return GenderMale
	default:
		return GenderUnknown
	}
}

// RefKind distinguishes the two conversation kinds an active index
// entry can point at.
type RefKind string

const (
	RefKindSession RefKind = "session"
	RefKindGroup   RefKind = "group"
)
