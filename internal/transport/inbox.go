package transport

import "sync"

// Inbox serializes delivery to a session's handler and holds messages that
// arrive before the handler is installed. The zero value is ready to use.
type Inbox struct {
	deliverMu sync.Mutex

	mu      sync.Mutex
	handler func(Message)
	pending []Message
}

// SetHandler installs fn and flushes held messages to it in arrival order.
func (in *Inbox) SetHandler(fn func(Message)) {
	in.deliverMu.Lock()
	defer in.deliverMu.Unlock()

	in.mu.Lock()
	in.handler = fn
	pending := in.pending
	in.pending = nil
	in.mu.Unlock()

	for _, msg := range pending {
		fn(msg)
	}
}

// Deliver passes msg to the handler, or holds it if none is set yet.
func (in *Inbox) Deliver(msg Message) {
	in.deliverMu.Lock()
	defer in.deliverMu.Unlock()

	in.mu.Lock()
	handler := in.handler
	if handler == nil {
		in.pending = append(in.pending, msg)
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()
	handler(msg)
}
