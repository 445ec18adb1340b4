package hub

import "encoding/json"

// Frame is the websocket envelope exchanged between clients and the relay.
type Frame struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Event    string          `json:"event,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// client is the connection that sent the frame. Internal to the hub.
	client *Client `json:"-"`
}

// Frame types.
const (
	// Client to server.
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"

	// Server to client.
	FrameSubscribed = "subscribed"
	FrameEvent      = "event"
	FramePeerLeft   = "peer_left"
	FrameError      = "error"
)

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Error string `json:"error"`
}

// SubscribedPayload is the payload of a subscribed frame.
type SubscribedPayload struct {
	// PeerPresent reports whether the other participant was already
	// subscribed.
	PeerPresent bool `json:"peer_present"`
}

// Error messages sent to clients.
const (
	errMissingFields = "room_id and sender_id are required"
	errNotMember     = "Not a member of this room"
	errRoomFull      = "Room is full"
	errNotSubscribed = "You must subscribe to a room first"
	errAlreadyJoined = "Already subscribed to a room"
	errReplaced      = "Replaced by a newer connection"
)

func errorFrame(msg string) *Frame {
	return &Frame{Type: FrameError, Payload: mustJSON(ErrorPayload{Error: msg})}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
