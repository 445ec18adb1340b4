package negotiation

import "github.com/vmihailenco/msgpack/v5"

const controlLabel = "control"

// Control message types carried on the control data channel.
const (
	ControlMediaState = "media_state"
	ControlBye        = "bye"
)

// ControlMessage is a msgpack frame on the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// NewControlMessage creates a ControlMessage with the given type and payload.
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func encodeControl(t string, payload any) ([]byte, error) {
	msg, err := NewControlMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func decodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}
