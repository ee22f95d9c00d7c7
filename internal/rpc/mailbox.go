package rpc

import (
	"encoding/json"
	"sync"
)

// outbound is a queued send command. A nil cont marks a notification.
type outbound struct {
	method string
	params json.RawMessage
	cont   Continuation
}

// mailbox is an unbounded FIFO of outbound commands feeding the core's
// goroutine. Enqueueing never blocks, which lets handlers and continuations
// (which run on that same goroutine) issue sends without deadlocking.
type mailbox struct {
	mu     sync.Mutex
	queue  []outbound
	closed bool

	// wake carries at most one token; the core's goroutine drains the whole
	// queue per token.
	wake chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// put enqueues a command. It reports false once the mailbox has been closed,
// in which case the command was not accepted.
func (m *mailbox) put(o outbound) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, o)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns all queued commands in FIFO order.
func (m *mailbox) drain() []outbound {
	m.mu.Lock()
	q := m.queue
	m.queue = nil
	m.mu.Unlock()
	return q
}

// close marks the mailbox closed and returns whatever was still queued.
// Subsequent put calls are rejected, so nothing can be enqueued after the
// shutdown drain has run.
func (m *mailbox) close() []outbound {
	m.mu.Lock()
	m.closed = true
	q := m.queue
	m.queue = nil
	m.mu.Unlock()
	return q
}
