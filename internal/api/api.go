// Package api holds the JSON bodies exchanged between pairline-server and
// the client.
package api

import "github.com/BioHazard786/Pairline/internal/matchmaker"

type LoginRequest struct {
	Name string `json:"name"`
}

type LoginResponse struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

// ParticipantRequest is the body of every call made on behalf of a
// logged-in participant.
type ParticipantRequest struct {
	ParticipantID string `json:"participant_id"`
}

type PairResponse struct {
	Paired bool             `json:"paired"`
	Room   *matchmaker.Room `json:"room,omitempty"`
}

type PresenceResponse struct {
	Online int `json:"online"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
