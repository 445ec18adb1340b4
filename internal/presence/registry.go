// Package presence tracks logged-in participants and counts who is online.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultTTL    = 30 * time.Second
	maxNameLength = 32
)

var (
	ErrInvalidName        = errors.New("name must be 1-32 characters")
	ErrNameTaken          = errors.New("name is already in use")
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Participant is a logged-in identity. Names are self-asserted.
type Participant struct {
	ID       string    `json:"participant_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"-"`
}

// Registry holds participants seen within TTL. Name uniqueness is
// best-effort: a name frees up once its holder logs out or goes stale.
type Registry struct {
	ttl      time.Duration
	now      func() time.Time
	onExpire func(Participant)

	mu     sync.Mutex
	byID   map[string]*Participant
	byName map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithExpireHook calls fn for every participant dropped because it went
// stale, outside the registry lock. Explicit logouts are not reported.
func WithExpireHook(fn func(Participant)) Option {
	return func(r *Registry) { r.onExpire = fn }
}

// NewRegistry creates a Registry. A non-positive ttl means DefaultTTL.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		ttl:    ttl,
		now:    time.Now,
		byID:   make(map[string]*Participant),
		byName: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Login registers name and returns a fresh participant ID.
func (r *Registry) Login(name string) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return Participant{}, ErrInvalidName
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	now := r.now()
	var expired []Participant
	if id, ok := r.byName[key]; ok {
		if p := r.byID[id]; p != nil {
			if r.alive(p, now) {
				r.mu.Unlock()
				return Participant{}, ErrNameTaken
			}
			expired = append(expired, *p)
		}
		r.remove(id)
	}

	p := &Participant{ID: uuid.NewString(), Name: name, LastSeen: now}
	r.byID[p.ID] = p
	r.byName[key] = p.ID
	r.mu.Unlock()

	slog.Info("participant logged in", "participant_id", p.ID, "name", name)
	r.expire(expired)
	return *p, nil
}

// Logout forgets id. Unknown IDs are ignored.
func (r *Registry) Logout(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		r.remove(id)
		slog.Info("participant logged out", "participant_id", id)
	}
}

// Touch records a heartbeat from id.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return ErrUnknownParticipant
	}
	p.LastSeen = r.now()
	return nil
}

// Lookup returns the participant registered as id.
func (r *Registry) Lookup(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Alive reports whether id is registered and was seen within TTL.
func (r *Registry) Alive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	return ok && r.alive(p, r.now())
}

// Online counts participants seen within TTL.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, p := range r.byID {
		if r.alive(p, now) {
			n++
		}
	}
	return n
}

// Sweep drops stale participants and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	var expired []Participant
	for id, p := range r.byID {
		if !r.alive(p, now) {
			expired = append(expired, *p)
			r.remove(id)
		}
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		slog.Debug("stale participants swept", "removed", len(expired))
	}
	r.expire(expired)
	return len(expired)
}

func (r *Registry) expire(ps []Participant) {
	if r.onExpire == nil {
		return
	}
	for _, p := range ps {
		r.onExpire(p)
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) alive(p *Participant, now time.Time) bool {
	return now.Sub(p.LastSeen) < r.ttl
}

// remove must be called with mu held.
func (r *Registry) remove(id string) {
	p, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	key := strings.ToLower(p.Name)
	if r.byName[key] == id {
		delete(r.byName, key)
	}
}
