package hub

import (
	"context"
	"log/slog"
	"time"
)

const (
	maxRoomMembers = 2
	authTimeout    = 5 * time.Second
)

// Authorizer decides whether a participant may subscribe to a room.
type Authorizer interface {
	Authorize(ctx context.Context, roomID, participantID string) bool
}

// Metrics receives relay activity. Implementations must be cheap; they are
// called from the hub loop.
type Metrics interface {
	SetConnections(n int)
	SetRooms(n int)
	Relayed(event string)
	Rejected(reason string)
}

// Room is the set of connections subscribed to one matchmaker room.
type Room struct {
	ID      string
	members map[string]*Client
}

// Hub relays signaling frames between the two participants of each room.
// All room and client state is owned by the goroutine running Run.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan *Frame
	done       chan struct{}

	auth    Authorizer
	metrics Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics reports relay activity to m.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a Hub that checks subscriptions with auth.
func New(auth Authorizer, opts ...Option) *Hub {
	h := &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Frame),
		done:       make(chan struct{}),
		auth:       auth,
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes registrations and frames until ctx is done. On return every
// connection's send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
		}
		h.clients = nil
		h.rooms = nil
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("signaling hub stopped", "connections", len(h.clients))
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.metrics.SetConnections(len(h.clients))
			slog.Debug("client registered", "remote", client.conn.RemoteAddr())

		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.inbound:
			if _, ok := h.clients[frame.client]; !ok {
				continue
			}
			switch frame.Type {
			case FrameSubscribe:
				h.subscribe(ctx, frame)
			case FramePublish:
				h.relay(frame)
			default:
				slog.Debug("unknown frame type", "type", frame.Type)
			}
		}
	}
}

func (h *Hub) subscribe(ctx context.Context, frame *Frame) {
	c := frame.client

	if frame.RoomID == "" || frame.SenderID == "" {
		h.reject(c, "invalid", errMissingFields)
		return
	}
	if c.roomID != "" {
		h.reject(c, "already_subscribed", errAlreadyJoined)
		return
	}

	actx, cancel := context.WithTimeout(ctx, authTimeout)
	allowed := h.auth.Authorize(actx, frame.RoomID, frame.SenderID)
	cancel()
	if !allowed {
		slog.Info("subscribe rejected", "room_id", frame.RoomID, "participant_id", frame.SenderID, "reason", "not a member")
		h.reject(c, "not_member", errNotMember)
		return
	}

	room, ok := h.rooms[frame.RoomID]
	if !ok {
		room = &Room{ID: frame.RoomID, members: make(map[string]*Client)}
	}

	if old, ok := room.members[frame.SenderID]; ok {
		// Same participant reconnecting; the stale socket loses its seat.
		old.roomID = ""
		old.participantID = ""
		h.send(old, errorFrame(errReplaced))
		slog.Info("subscription replaced", "room_id", room.ID, "participant_id", frame.SenderID)
	} else if len(room.members) >= maxRoomMembers {
		slog.Info("subscribe rejected", "room_id", frame.RoomID, "participant_id", frame.SenderID, "reason", "room full")
		h.reject(c, "room_full", errRoomFull)
		return
	}

	peerPresent := false
	for id := range room.members {
		if id != frame.SenderID {
			peerPresent = true
		}
	}
	room.members[frame.SenderID] = c
	h.rooms[room.ID] = room
	c.roomID = room.ID
	c.participantID = frame.SenderID
	h.metrics.SetRooms(len(h.rooms))

	payload := mustJSON(SubscribedPayload{PeerPresent: peerPresent})
	h.send(c, &Frame{Type: FrameSubscribed, RoomID: room.ID, SenderID: frame.SenderID, Payload: payload})
	slog.Info("participant subscribed", "room_id", room.ID, "participant_id", frame.SenderID, "peer_present", peerPresent)
}

func (h *Hub) relay(frame *Frame) {
	c := frame.client
	if c.roomID == "" {
		h.reject(c, "not_subscribed", errNotSubscribed)
		return
	}
	room, ok := h.rooms[c.roomID]
	if !ok {
		h.reject(c, "not_subscribed", errNotSubscribed)
		return
	}

	out := &Frame{
		Type:     FrameEvent,
		RoomID:   room.ID,
		SenderID: c.participantID,
		Event:    frame.Event,
		Payload:  frame.Payload,
	}

	delivered := false
	for id, member := range room.members {
		if id == c.participantID {
			continue
		}
		h.send(member, out)
		delivered = true
	}
	if delivered {
		h.metrics.Relayed(frame.Event)
		slog.Debug("relayed frame", "room_id", room.ID, "from", c.participantID, "event", frame.Event)
	} else {
		slog.Debug("no peer to relay to", "room_id", room.ID, "event", frame.Event)
	}
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.metrics.SetConnections(len(h.clients))

	if room, ok := h.rooms[c.roomID]; ok && room.members[c.participantID] == c {
		delete(room.members, c.participantID)
		if len(room.members) == 0 {
			delete(h.rooms, room.ID)
			slog.Debug("room released", "room_id", room.ID)
		} else {
			for _, other := range room.members {
				h.send(other, &Frame{Type: FramePeerLeft, RoomID: room.ID, SenderID: c.participantID})
			}
			slog.Info("peer left room", "room_id", room.ID, "participant_id", c.participantID)
		}
		h.metrics.SetRooms(len(h.rooms))
	}

	close(c.send)
}

func (h *Hub) reject(c *Client, reason, msg string) {
	h.metrics.Rejected(reason)
	h.send(c, errorFrame(msg))
}

// send queues frame for c without blocking the hub. A client whose buffer is
// full is too slow to keep and gets disconnected.
func (h *Hub) send(c *Client, frame *Frame) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("client send buffer full, dropping connection", "remote", c.conn.RemoteAddr())
		c.conn.Close()
	}
}

type nopMetrics struct{}

func (nopMetrics) SetConnections(int) {}
func (nopMetrics) SetRooms(int)       {}
func (nopMetrics) Relayed(string)     {}
func (nopMetrics) Rejected(string)    {}
