package transport

import (
	"context"
	"log/slog"
	"sync"
)

// Bus is an in-process Transport. Every message published to a room is
// delivered to all other sessions of that room.
//
// The hook fields inject the delivery faults the contract allows. They must
// be set before the first Open.
type Bus struct {
	// Echo also delivers a message back to its sender.
	Echo bool

	// Duplicate reports whether a message is delivered a second time.
	Duplicate func(Message) bool

	// Fault, when it returns an error, fails the Publish call with it.
	Fault func(Message) error

	mu    sync.Mutex
	rooms map[string]map[*busSession]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{rooms: make(map[string]map[*busSession]struct{})}
}

// Open subscribes participantID to roomID.
func (b *Bus) Open(ctx context.Context, roomID, participantID string) (Session, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &busSession{
		bus:           b,
		roomID:        roomID,
		participantID: participantID,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	b.mu.Lock()
	if b.rooms == nil {
		b.rooms = make(map[string]map[*busSession]struct{})
	}
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*busSession]struct{})
	}
	b.rooms[roomID][s] = struct{}{}
	b.mu.Unlock()

	go s.dispatch()
	return s, nil
}

// Subscribers returns the number of open sessions in roomID.
func (b *Bus) Subscribers(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[roomID])
}

func (b *Bus) publish(from *busSession, msg Message) error {
	if b.Fault != nil {
		if err := b.Fault(msg); err != nil {
			return err
		}
	}

	b.mu.Lock()
	targets := make([]*busSession, 0, len(b.rooms[from.roomID]))
	for s := range b.rooms[from.roomID] {
		if s != from || b.Echo {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	copies := 1
	if b.Duplicate != nil && b.Duplicate(msg) {
		copies = 2
	}
	for _, s := range targets {
		for i := 0; i < copies; i++ {
			s.enqueue(msg)
		}
	}
	return nil
}

func (b *Bus) remove(s *busSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms[s.roomID], s)
	if len(b.rooms[s.roomID]) == 0 {
		delete(b.rooms, s.roomID)
	}
}

type busSession struct {
	bus           *Bus
	roomID        string
	participantID string

	mu      sync.Mutex
	handler func(Message)
	queue   []Message

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *busSession) Publish(ctx context.Context, msg Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.RoomID == "" {
		msg.RoomID = s.roomID
	}
	if msg.SenderID == "" {
		msg.SenderID = s.participantID
	}
	return s.bus.publish(s, msg)
}

func (s *busSession) OnReceive(fn func(Message)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
	s.signal()
}

func (s *busSession) Done() <-chan struct{} { return s.done }

func (s *busSession) Close() error {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
	return nil
}

func (s *busSession) enqueue(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *busSession) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued messages in order. Messages stay queued until a
// handler is installed.
func (s *busSession) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.handler == nil || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			handler := s.handler
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			slog.Debug("bus delivery", "room_id", s.roomID, "to", s.participantID, "event", msg.Event)
			handler(msg)
		}
	}
}
