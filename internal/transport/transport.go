// Package transport defines the signaling message contract shared by every
// Pairline transport, and holds the in-memory and RabbitMQ implementations.
package transport

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Signaling events.
const (
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventBye          = "bye"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrInvalidRoom  = errors.New("room id is required")
	ErrInvalidEvent = errors.New("unknown signaling event")
)

// Message is one signaling message exchanged between the two participants of
// a room.
type Message struct {
	Event     string                   `json:"event"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	SenderID  string                   `json:"sender_id"`
	RoomID    string                   `json:"room_id"`
}

// Validate checks that the message carries the fields its event needs.
func (m Message) Validate() error {
	switch m.Event {
	case EventOffer, EventAnswer:
		if m.SDP == "" {
			return errors.New("sdp is required for " + m.Event)
		}
	case EventICECandidate:
		if m.Candidate == nil {
			return errors.New("candidate is required for " + m.Event)
		}
	case EventBye:
	default:
		return ErrInvalidEvent
	}
	return nil
}

// Transport opens per-room signaling sessions.
type Transport interface {
	Open(ctx context.Context, roomID, participantID string) (Session, error)
}

// Session is a participant's subscription to one room's signaling channel.
//
// Delivery is at-least-once and may be reordered. A participant may receive
// its own messages back. The handler is never called concurrently, and
// messages arriving before OnReceive are held until it is set.
type Session interface {
	Publish(ctx context.Context, msg Message) error
	OnReceive(fn func(Message))
	// Done is closed once the session stops, after Close or when the
	// underlying connection is lost.
	Done() <-chan struct{}
	Close() error
}
