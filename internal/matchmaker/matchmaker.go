package matchmaker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Pairer is the matchmaking contract shared by the local Matchmaker and the
// remote API client.
type Pairer interface {
	Enqueue(ctx context.Context, entry WaitingEntry) error
	TryPair(ctx context.Context, participantID string) (*Room, error)
	Cancel(ctx context.Context, participantID string) error
	Leave(ctx context.Context, roomID, participantID string) error
}

// Observer receives matchmaking outcomes, e.g. for metrics.
type Observer interface {
	PairAttempt(outcome string)
	RoomCreated()
	RoomClosed()
}

// Pair attempt outcomes reported to an Observer.
const (
	OutcomeCreated   = "created"
	OutcomeAdopted   = "adopted"
	OutcomeWaiting   = "waiting"
	OutcomeContended = "contended"
	OutcomeError     = "error"
)

// Matchmaker pairs waiting participants into rooms. All mutation of the
// waiting pool and room records goes through it.
type Matchmaker struct {
	store    Store
	observer Observer
	now      func() time.Time
	alive    func(participantID string) bool
}

// Option configures a Matchmaker.
type Option func(*Matchmaker)

// WithObserver reports pairing outcomes to o.
func WithObserver(o Observer) Option {
	return func(m *Matchmaker) { m.observer = o }
}

// WithClock overrides the time source used for Room.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Matchmaker) { m.now = now }
}

// WithLiveness skips waiting candidates for which alive reports false, so
// an entry left behind by a vanished client is never paired.
func WithLiveness(alive func(participantID string) bool) Option {
	return func(m *Matchmaker) { m.alive = alive }
}

// New creates a Matchmaker backed by store.
func New(store Store, opts ...Option) *Matchmaker {
	m := &Matchmaker{
		store:    store,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue upserts the participant's waiting entry. Calling it again while
// queued replaces the entry.
func (m *Matchmaker) Enqueue(ctx context.Context, entry WaitingEntry) error {
	if entry.ParticipantID == "" {
		return ErrInvalidParticipant
	}
	if err := m.store.UpsertWaiting(ctx, entry); err != nil {
		return Retryable("enqueue", err)
	}
	slog.Debug("participant queued", "participant_id", entry.ParticipantID, "name", entry.DisplayName)
	return nil
}

// TryPair pairs the caller with any other waiting participant, or adopts a
// room the counterpart already created for it. A nil room with a nil error
// means the caller is still waiting.
func (m *Matchmaker) TryPair(ctx context.Context, participantID string) (*Room, error) {
	if participantID == "" {
		return nil, ErrInvalidParticipant
	}

	entries, err := m.store.ListWaiting(ctx)
	if err != nil {
		m.observer.PairAttempt(OutcomeError)
		return nil, Retryable("list waiting", err)
	}

	var self *WaitingEntry
	for i := range entries {
		if entries[i].ParticipantID == participantID {
			self = &entries[i]
			break
		}
	}

	if self != nil {
		for _, other := range entries {
			if other.ParticipantID == participantID {
				continue
			}
			if m.alive != nil && !m.alive(other.ParticipantID) {
				slog.Debug("skipping stale candidate", "participant_id", participantID, "candidate", other.ParticipantID)
				continue
			}

			room := Room{
				ID:           generateRoomID(m.roomExists(ctx)),
				ParticipantA: participantID,
				ParticipantB: other.ParticipantID,
				NameA:        self.DisplayName,
				NameB:        other.DisplayName,
				Active:       true,
				CreatedAt:    m.now(),
			}

			err := m.store.CreateRoom(ctx, room)
			switch {
			case err == nil:
				slog.Info("room created", "room_id", room.ID, "participant_a", room.ParticipantA, "participant_b", room.ParticipantB)
				m.observer.PairAttempt(OutcomeCreated)
				m.observer.RoomCreated()
				return &room, nil
			case errors.Is(err, ErrContention):
				slog.Debug("pairing contended", "participant_id", participantID, "candidate", other.ParticipantID)
				m.observer.PairAttempt(OutcomeContended)
				continue
			default:
				m.observer.PairAttempt(OutcomeError)
				return nil, Retryable("create room", err)
			}
		}
	}

	room, err := m.store.ActiveRoomFor(ctx, participantID)
	if err != nil {
		m.observer.PairAttempt(OutcomeError)
		return nil, Retryable("find room", err)
	}
	if room != nil {
		if err := m.store.DeleteWaiting(ctx, participantID); err != nil {
			m.observer.PairAttempt(OutcomeError)
			return nil, Retryable("evict stale entry", err)
		}
		slog.Info("room adopted", "room_id", room.ID, "participant_id", participantID)
		m.observer.PairAttempt(OutcomeAdopted)
		return room, nil
	}

	m.observer.PairAttempt(OutcomeWaiting)
	return nil, nil
}

// Cancel removes the participant from the waiting pool. It is a no-op when
// the participant is not queued.
func (m *Matchmaker) Cancel(ctx context.Context, participantID string) error {
	if err := m.store.DeleteWaiting(ctx, participantID); err != nil {
		return Retryable("cancel", err)
	}
	slog.Debug("participant dequeued", "participant_id", participantID)
	return nil
}

// Evict drops everything the matchmaker holds for a participant that is
// gone: its waiting entry, and its active room, which is closed.
func (m *Matchmaker) Evict(ctx context.Context, participantID string) error {
	if err := m.Cancel(ctx, participantID); err != nil {
		return err
	}
	room, err := m.store.ActiveRoomFor(ctx, participantID)
	if err != nil {
		return Retryable("find room", err)
	}
	if room == nil {
		return nil
	}
	return m.Leave(ctx, room.ID, participantID)
}

// Room returns the room record for roomID.
func (m *Matchmaker) Room(ctx context.Context, roomID string) (*Room, error) {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, Retryable("get room", err)
	}
	return room, nil
}

// Leave deactivates the room on behalf of one of its participants.
func (m *Matchmaker) Leave(ctx context.Context, roomID, participantID string) error {
	room, err := m.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Has(participantID) {
		return ErrNotMember
	}
	if !room.Active {
		return nil
	}
	if err := m.store.DeactivateRoom(ctx, roomID); err != nil {
		return Retryable("deactivate room", err)
	}
	slog.Info("room closed", "room_id", roomID, "by", participantID)
	m.observer.RoomClosed()
	return nil
}

// Authorize reports whether participantID may join the signaling channel of
// roomID, i.e. the room is active and names the participant.
func (m *Matchmaker) Authorize(ctx context.Context, roomID, participantID string) bool {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return false
	}
	return room.Active && room.Has(participantID)
}

func (m *Matchmaker) roomExists(ctx context.Context) func(string) bool {
	return func(id string) bool {
		ok, err := m.store.RoomExists(ctx, id)
		return err == nil && ok
	}
}

type nopObserver struct{}

func (nopObserver) PairAttempt(string) {}
func (nopObserver) RoomCreated()       {}
func (nopObserver) RoomClosed()        {}
