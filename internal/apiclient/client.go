// Package apiclient talks to pairline-server's HTTP API. Client implements
// matchmaker.Pairer, so matchmaker.Search drives remote matchmaking the same
// way it drives a local Matchmaker.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/Pairline/internal/api"
	"github.com/BioHazard786/Pairline/internal/dns"
	"github.com/BioHazard786/Pairline/internal/matchmaker"
	"github.com/BioHazard786/Pairline/internal/presence"
)

const requestTimeout = 10 * time.Second

// StatusError is a non-2xx response that maps to no known error.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is an API client for one server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL (http:// or https://).
func New(baseURL string) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dns.DialContext
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: tr, Timeout: requestTimeout},
	}
}

// Login registers name. A name in use fails with presence.ErrNameTaken.
func (c *Client) Login(ctx context.Context, name string) (api.LoginResponse, error) {
	var resp api.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/login", api.LoginRequest{Name: name}, &resp)
	return resp, err
}

func (c *Client) Logout(ctx context.Context, participantID string) error {
	return c.do(ctx, "logout", http.MethodPost, "/api/logout", api.ParticipantRequest{ParticipantID: participantID}, nil)
}

func (c *Client) Heartbeat(ctx context.Context, participantID string) error {
	return c.do(ctx, "heartbeat", http.MethodPost, "/api/heartbeat", api.ParticipantRequest{ParticipantID: participantID}, nil)
}

// Online returns the number of participants online. It has the shape of a
// presence.CountFunc.
func (c *Client) Online(ctx context.Context) (int, error) {
	var resp api.PresenceResponse
	if err := c.do(ctx, "presence", http.MethodGet, "/api/presence", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Online, nil
}

// Enqueue queues the participant. The display name is the one given at
// login; entry.DisplayName is ignored by the server.
func (c *Client) Enqueue(ctx context.Context, entry matchmaker.WaitingEntry) error {
	if entry.ParticipantID == "" {
		return matchmaker.ErrInvalidParticipant
	}
	return c.do(ctx, "enqueue", http.MethodPost, "/api/queue", api.ParticipantRequest{ParticipantID: entry.ParticipantID}, nil)
}

func (c *Client) TryPair(ctx context.Context, participantID string) (*matchmaker.Room, error) {
	var resp api.PairResponse
	if err := c.do(ctx, "try pair", http.MethodPost, "/api/queue/pair", api.ParticipantRequest{ParticipantID: participantID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Paired {
		return nil, nil
	}
	return resp.Room, nil
}

func (c *Client) Cancel(ctx context.Context, participantID string) error {
	return c.do(ctx, "cancel", http.MethodDelete, "/api/queue/"+url.PathEscape(participantID), nil, nil)
}

func (c *Client) Room(ctx context.Context, roomID string) (*matchmaker.Room, error) {
	var room matchmaker.Room
	if err := c.do(ctx, "get room", http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) Leave(ctx context.Context, roomID, participantID string) error {
	return c.do(ctx, "leave room", http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave", api.ParticipantRequest{ParticipantID: participantID}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &matchmaker.RetryableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: invalid response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	var body api.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)
	se := &StatusError{Status: resp.StatusCode, Message: body.Error}

	switch resp.StatusCode {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return &matchmaker.RetryableError{Op: op, Err: se}
	case http.StatusConflict:
		return presence.ErrNameTaken
	case http.StatusForbidden:
		return matchmaker.ErrNotMember
	case http.StatusNotFound:
		if strings.HasPrefix(op, "get room") || op == "leave room" {
			return matchmaker.ErrRoomNotFound
		}
		if body.Error == presence.ErrUnknownParticipant.Error() {
			return presence.ErrUnknownParticipant
		}
	case http.StatusBadRequest:
		if op == "login" {
			return fmt.Errorf("%w: %s", presence.ErrInvalidName, body.Error)
		}
	}
	return fmt.Errorf("%s: %w", op, se)
}

