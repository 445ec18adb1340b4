// Package signaling is the websocket Transport that talks to the relay
// served by pairline-server at /ws.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/Pairline/internal/dns"
	"github.com/BioHazard786/Pairline/internal/hub"
	"github.com/BioHazard786/Pairline/internal/transport"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	subscribeWait  = 10 * time.Second
	outgoingBuffer = 32
)

// ErrRejected is returned by Open when the relay refuses the subscription.
var ErrRejected = errors.New("relay rejected subscription")

// Transport opens signaling sessions over a websocket to the relay.
type Transport struct {
	url    string
	dialer *websocket.Dialer
}

// New creates a Transport for the relay at serverURL (ws:// or wss://).
func New(serverURL string) *Transport {
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext
	return &Transport{url: serverURL, dialer: &dialer}
}

// Open connects to the relay and subscribes to roomID. It returns once the
// relay has confirmed the subscription.
func (t *Transport) Open(ctx context.Context, roomID, participantID string) (transport.Session, error) {
	if roomID == "" {
		return nil, transport.ErrInvalidRoom
	}
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := subscribe(conn, roomID, participantID); err != nil {
		conn.Close()
		return nil, err
	}

	s := &session{
		conn:          conn,
		roomID:        roomID,
		participantID: participantID,
		outgoing:      make(chan *hub.Frame, outgoingBuffer),
		done:          make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readPump()
	go s.writePump()

	slog.Debug("signaling session opened", "room_id", roomID, "participant_id", participantID)
	return s, nil
}

func subscribe(conn *websocket.Conn, roomID, participantID string) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hub.Frame{Type: hub.FrameSubscribe, RoomID: roomID, SenderID: participantID}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(subscribeWait))
	defer conn.SetReadDeadline(time.Time{})

	var reply hub.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read subscription reply: %w", err)
	}
	switch reply.Type {
	case hub.FrameSubscribed:
		return nil
	case hub.FrameError:
		return fmt.Errorf("%w: %s", ErrRejected, errorText(reply))
	default:
		return fmt.Errorf("%w: unexpected %q frame", ErrRejected, reply.Type)
	}
}

type session struct {
	conn          *websocket.Conn
	roomID        string
	participantID string

	inbox    transport.Inbox
	outgoing chan *hub.Frame

	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) Publish(ctx context.Context, msg transport.Message) error {
	if msg.RoomID == "" {
		msg.RoomID = s.roomID
	}
	if msg.SenderID == "" {
		msg.SenderID = s.participantID
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	frame := &hub.Frame{
		Type:     hub.FramePublish,
		RoomID:   s.roomID,
		SenderID: s.participantID,
		Event:    msg.Event,
		Payload:  payload,
	}

	select {
	case <-s.done:
		return transport.ErrClosed
	default:
	}
	select {
	case s.outgoing <- frame:
		return nil
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) OnReceive(fn func(transport.Message)) {
	s.inbox.SetHandler(fn)
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// readPump turns relay frames into messages. A vanished peer is reported as
// a bye from that peer.
func (s *session) readPump() {
	defer func() {
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var frame hub.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("signaling connection lost", "room_id", s.roomID, "error", err)
			}
			return
		}

		switch frame.Type {
		case hub.FrameEvent:
			var msg transport.Message
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				slog.Warn("dropping malformed signaling payload", "room_id", s.roomID, "error", err)
				continue
			}
			if msg.SenderID == "" {
				msg.SenderID = frame.SenderID
			}
			if msg.RoomID == "" {
				msg.RoomID = frame.RoomID
			}
			s.inbox.Deliver(msg)

		case hub.FramePeerLeft:
			s.inbox.Deliver(transport.Message{Event: transport.EventBye, SenderID: frame.SenderID, RoomID: s.roomID})

		case hub.FrameError:
			slog.Warn("relay error", "room_id", s.roomID, "error", errorText(frame))

		default:
			slog.Debug("ignoring relay frame", "type", frame.Type)
		}
	}
}

// writePump is the only writer of the connection after subscription.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				slog.Warn("signaling write failed", "room_id", s.roomID, "error", err)
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func errorText(f hub.Frame) string {
	var p hub.ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.Error == "" {
		return "unknown error from server"
	}
	return p.Error
}
