package matchmaker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultSearchInterval       = 2 * time.Second
	DefaultMaxConsecutiveErrors = 5
	cancelTimeout               = 3 * time.Second
)

// SearchOptions bounds the retry loop run by Search.
type SearchOptions struct {
	// Interval between pairing attempts.
	Interval time.Duration

	// MaxAttempts caps the number of TryPair calls. Zero keeps trying at the
	// fixed cadence until paired or cancelled.
	MaxAttempts int

	// MaxConsecutiveErrors aborts the search after this many retryable
	// failures in a row.
	MaxConsecutiveErrors int

	// OnAttempt is called before every attempt with its 1-based number.
	OnAttempt func(attempt int)
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultSearchInterval
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return o
}

// Search enqueues entry and retries TryPair every opts.Interval until a room
// is found. Cancelling ctx removes the entry from the pool and stops the
// loop.
func Search(ctx context.Context, p Pairer, entry WaitingEntry, opts SearchOptions) (*Room, error) {
	opts = opts.withDefaults()

	if err := enqueueWithRetry(ctx, p, entry, opts); err != nil {
		return nil, err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	consecutiveErrors := 0
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			withdraw(p, entry.ParticipantID)
			return nil, ctx.Err()
		case <-timer.C:
		}

		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt)
		}

		room, err := p.TryPair(ctx, entry.ParticipantID)
		switch {
		case err == nil && room != nil:
			return room, nil
		case err == nil:
			consecutiveErrors = 0
		case errors.Is(err, ErrRetryable):
			consecutiveErrors++
			slog.Warn("pairing attempt failed", "attempt", attempt, "error", err)
			if consecutiveErrors >= opts.MaxConsecutiveErrors {
				withdraw(p, entry.ParticipantID)
				return nil, err
			}
		default:
			if ctx.Err() != nil {
				withdraw(p, entry.ParticipantID)
				return nil, ctx.Err()
			}
			withdraw(p, entry.ParticipantID)
			return nil, err
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			withdraw(p, entry.ParticipantID)
			return nil, ErrSearchExhausted
		}
		timer.Reset(opts.Interval)
	}
}

func enqueueWithRetry(ctx context.Context, p Pairer, entry WaitingEntry, opts SearchOptions) error {
	for failures := 0; ; {
		err := p.Enqueue(ctx, entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetryable) {
			return err
		}
		failures++
		if failures >= opts.MaxConsecutiveErrors {
			return err
		}
		slog.Warn("enqueue failed, retrying", "attempt", failures, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
}

// withdraw removes the waiting entry even when the search context is
// already done. A counterpart may have paired with us in the meantime; with
// the entry gone TryPair can only adopt that room, which is then left so the
// counterpart does not wait for us.
func withdraw(p Pairer, participantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.Cancel(ctx, participantID); err != nil {
		slog.Warn("failed to leave waiting pool", "participant_id", participantID, "error", err)
		return
	}

	room, err := p.TryPair(ctx, participantID)
	if err != nil || room == nil {
		return
	}
	if err := p.Leave(ctx, room.ID, participantID); err != nil {
		slog.Warn("failed to leave room", "room_id", room.ID, "participant_id", participantID, "error", err)
		return
	}
	slog.Info("left room paired during cancellation", "room_id", room.ID, "participant_id", participantID)
}
