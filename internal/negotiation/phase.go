package negotiation

import "github.com/BioHazard786/Pairline/internal/matchmaker"

// Role decides which side creates the offer.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// RoleFor returns the role of self in room. Participant A created the room
// and initiates.
func RoleFor(room *matchmaker.Room, self string) Role {
	if room.ParticipantA == self {
		return Initiator
	}
	return Responder
}

// Phase is a step of the negotiation.
type Phase int

const (
	Idle Phase = iota
	CapturingMedia
	CreatingOffer
	AwaitingAnswer
	AwaitingOffer
	CreatingAnswer
	Connecting
	Connected
	Disconnected
)

var phaseNames = [...]string{
	Idle:           "idle",
	CapturingMedia: "capturing_media",
	CreatingOffer:  "creating_offer",
	AwaitingAnswer: "awaiting_answer",
	AwaitingOffer:  "awaiting_offer",
	CreatingAnswer: "creating_answer",
	Connecting:     "connecting",
	Connected:      "connected",
	Disconnected:   "disconnected",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Status labels shown to the user.
const (
	LabelConnecting   = "connecting"
	LabelConnected    = "connected"
	LabelDisconnected = "disconnected"
)

// Label collapses the phase into the three user-facing states.
func (p Phase) Label() string {
	switch p {
	case Connected:
		return LabelConnected
	case Idle, Disconnected:
		return LabelDisconnected
	default:
		return LabelConnecting
	}
}

// MediaState is which of a participant's tracks are enabled.
type MediaState struct {
	Audio bool `msgpack:"audio" json:"audio"`
	Video bool `msgpack:"video" json:"video"`
}

// Status is a snapshot published on every phase or remote media change.
type Status struct {
	Phase       Phase
	Label       string
	Err         error
	RemoteMedia MediaState
}
