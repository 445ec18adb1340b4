package matchmaker

import (
	"context"
	"sync"
)

// Store is the shared record store behind the matchmaker. CreateRoom is the
// only operation that touches both the waiting pool and the rooms, and it
// must be a single serialized step.
type Store interface {
	UpsertWaiting(ctx context.Context, entry WaitingEntry) error
	DeleteWaiting(ctx context.Context, participantID string) error
	ListWaiting(ctx context.Context) ([]WaitingEntry, error)

	// CreateRoom inserts room and evicts both participants from the waiting
	// pool. It fails with ErrContention unless both participants are still
	// waiting, neither has an active room and no active room holds the same
	// pair token.
	CreateRoom(ctx context.Context, room Room) error

	// ActiveRoomFor returns the active room naming participantID, if any.
	ActiveRoomFor(ctx context.Context, participantID string) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	DeactivateRoom(ctx context.Context, roomID string) error
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// MemoryStore is a Store kept in process memory behind one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	waiting map[string]WaitingEntry
	rooms   map[string]*Room
	// active maps participant ID and pair token to the active room ID.
	active map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		waiting: make(map[string]WaitingEntry),
		rooms:   make(map[string]*Room),
		active:  make(map[string]string),
	}
}

func (s *MemoryStore) UpsertWaiting(_ context.Context, entry WaitingEntry) error {
	if entry.ParticipantID == "" {
		return ErrInvalidParticipant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting[entry.ParticipantID] = entry
	return nil
}

func (s *MemoryStore) DeleteWaiting(_ context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, participantID)
	return nil
}

func (s *MemoryStore) ListWaiting(_ context.Context) ([]WaitingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]WaitingEntry, 0, len(s.waiting))
	for _, e := range s.waiting {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, room Room) error {
	if room.ParticipantA == "" || room.ParticipantB == "" {
		return ErrInvalidParticipant
	}
	if room.ParticipantA == room.ParticipantB {
		return ErrSelfPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waiting[room.ParticipantA]; !ok {
		return ErrContention
	}
	if _, ok := s.waiting[room.ParticipantB]; !ok {
		return ErrContention
	}
	for _, key := range []string{room.ParticipantA, room.ParticipantB, room.PairToken()} {
		if _, busy := s.active[key]; busy {
			return ErrContention
		}
	}
	if _, taken := s.rooms[room.ID]; taken {
		return ErrContention
	}

	stored := room
	stored.Active = true
	s.rooms[room.ID] = &stored
	s.active[room.ParticipantA] = room.ID
	s.active[room.ParticipantB] = room.ID
	s.active[room.PairToken()] = room.ID
	delete(s.waiting, room.ParticipantA)
	delete(s.waiting, room.ParticipantB)
	return nil
}

func (s *MemoryStore) ActiveRoomFor(_ context.Context, participantID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[participantID]
	if !ok {
		return nil, nil
	}
	room := *s.rooms[id]
	return &room, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := *r
	return &room, nil
}

func (s *MemoryStore) DeactivateRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !r.Active {
		return nil
	}
	r.Active = false
	for _, key := range []string{r.ParticipantA, r.ParticipantB, r.PairToken()} {
		if s.active[key] == r.ID {
			delete(s.active, key)
		}
	}
	return nil
}

func (s *MemoryStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}
