// Package notify fans out violation signals to in-process subscribers,
// decoupling the decision engine from the audit pipeline. Publication is
// non-blocking: a subscriber that cannot keep up loses signals rather than
// stalling query processing.
package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for violation signal channels.
// Sized for typical bursts; subscribers that fall behind have signals
// dropped (non-blocking send).
const defaultSignalBufferSize = 64

// ViolationSignal notifies subscribers that the guard produced a violation.
type ViolationSignal struct {
	Operation string
	Mode      string
	Message   string
	Query     string
	Client    string
}

// Filter specifies which signals a subscriber wants. Empty lists match
// everything.
type Filter struct {
	Operations []string
	Modes      []string
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan ViolationSignal
	closed atomic.Bool
}

func (s *subscription) matches(sig ViolationSignal) bool {
	return matchesList(s.filter.Operations, sig.Operation) &&
		matchesList(s.filter.Modes, sig.Mode)
}

func matchesList(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for violation signals.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
}

// NewHub creates a new violation notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Publish sends a signal to all matching subscribers without blocking.
func (h *Hub) Publish(sig ViolationSignal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(sig) {
			continue
		}

		select {
		case sub.ch <- sig:
		default:
			// Buffer full, skip this subscriber.
			h.dropped.Add(1)
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and a
// cancel function. The channel is buffered; slow subscribers lose signals
// rather than stall Publish. Cancel is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan ViolationSignal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan ViolationSignal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Dropped returns how many signals were lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
