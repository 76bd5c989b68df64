package hub

import "sync"

// CloseReason says why an outbox was closed
type CloseReason uint8

const (
	// ReasonNone means the outbox is still open
	ReasonNone CloseReason = iota
	// ReasonSessionEnded is used when the host ends the session
	ReasonSessionEnded
	// ReasonReplaced is used when a newer connection registers under the same role
	ReasonReplaced
	// ReasonShutdown is used when the server stops
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonSessionEnded:
		return "session ended"
	case ReasonReplaced:
		return "replaced by a newer connection"
	case ReasonShutdown:
		return "server shutting down"
	default:
		return "open"
	}
}

// Outbox is an unbounded FIFO of encoded messages for one connection.
// Send never blocks; the connection's writer waits on Ready and calls Drain.
type Outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	reason CloseReason
	ready  chan struct{}
}

// NewOutbox creates an empty open outbox
func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Send queues a message. It returns false if the outbox is closed.
func (o *Outbox) Send(msg []byte) bool {
	o.mu.Lock()
	if o.reason != ReasonNone {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()
	o.notify()
	return true
}

// Ready is signalled whenever messages are queued or the outbox is closed
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Drain removes and returns every queued message, and reports whether the
// outbox has been closed. Messages queued before Close are still returned.
func (o *Outbox) Drain() ([][]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.queue
	o.queue = nil
	return msgs, o.reason != ReasonNone
}

// Close stops accepting messages. Only the first reason is kept.
func (o *Outbox) Close(reason CloseReason) {
	o.mu.Lock()
	if o.reason != ReasonNone {
		o.mu.Unlock()
		return
	}
	o.reason = reason
	o.mu.Unlock()
	o.notify()
}

// Reason returns why the outbox was closed, or ReasonNone
func (o *Outbox) Reason() CloseReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) notify() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
