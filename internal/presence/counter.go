package presence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultInterval = 5 * time.Second

// CountFunc reads the current number of online participants.
type CountFunc func(ctx context.Context) (int, error)

// Counter periodically reads the online count. It runs on its own and
// shares nothing with a call in progress.
type Counter struct {
	read     CountFunc
	interval time.Duration
	onUpdate func(int)

	value atomic.Int64
	ready atomic.Bool
}

// NewCounter creates a Counter reading every interval. onUpdate, if set, is
// called from Run with every successful read.
func NewCounter(read CountFunc, interval time.Duration, onUpdate func(int)) *Counter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Counter{read: read, interval: interval, onUpdate: onUpdate}
}

// Run reads immediately and then every interval until ctx is done. Failed
// reads keep the last value.
func (c *Counter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Value returns the latest count and whether any read has succeeded.
func (c *Counter) Value() (int, bool) {
	return int(c.value.Load()), c.ready.Load()
}

func (c *Counter) poll(ctx context.Context) {
	n, err := c.read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("presence read failed", "error", err)
		}
		return
	}
	c.value.Store(int64(n))
	c.ready.Store(true)
	if c.onUpdate != nil {
		c.onUpdate(n)
	}
}
