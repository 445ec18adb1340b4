package matchmaker

import "time"

// WaitingEntry is a participant currently seeking a match.
type WaitingEntry struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// Room is the pairing of exactly two participants for one call.
//
// Identity fields never change after creation. Active only ever moves from
// true to false.
type Room struct {
	ID           string    `json:"room_id"`
	ParticipantA string    `json:"participant_a_id"`
	ParticipantB string    `json:"participant_b_id"`
	NameA        string    `json:"name_a"`
	NameB        string    `json:"name_b"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// PairToken returns an order independent key for the two participants.
func (r *Room) PairToken() string {
	return pairToken(r.ParticipantA, r.ParticipantB)
}

// Has reports whether id is one of the room's participants.
func (r *Room) Has(id string) bool {
	return id != "" && (r.ParticipantA == id || r.ParticipantB == id)
}

// Peer returns the counterpart's ID and display name for participant id.
func (r *Room) Peer(id string) (string, string) {
	if r.ParticipantA == id {
		return r.ParticipantB, r.NameB
	}
	return r.ParticipantA, r.NameA
}

func pairToken(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
