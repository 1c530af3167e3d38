package router

import (
	"sync"

	"github.com/driftwire/agentcli/internal/events"
)

// Broadcast is a single-producer, multiple-consumer event fan-out for one
// session. Each subscriber owns an independent bounded channel with
// sliding-buffer, drop-oldest semantics: a slow subscriber only ever loses
// its own backlog, never another subscriber's, and never blocks the
// publisher. This generalizes the donor's single-consumer index-addressed
// ring buffer (internal/session/event_buffer.go) into true multi-subscriber
// fan-out, since the specification requires independent per-subscriber
// drop policy rather than a shared ring.
type Broadcast struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
}

type subscriber struct {
	ch chan events.Envelope
}

// DropCounter is a per-session drop callback type. Broadcast neither
// accepts nor calls one, so sliding-window drops are not counted.
type DropCounter func(sessionID string)

// NewBroadcast creates a Broadcast whose subscribers each get a channel of
// the given capacity (default 1024 per the specification's buffer table).
func NewBroadcast(bufferSize int) *Broadcast {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Broadcast{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe exactly
// once when done consuming.
type Subscription struct {
	id   int
	b    *Broadcast
	Chan <-chan events.Envelope
}

// Subscribe registers a new subscriber and returns its channel handle.
func (b *Broadcast) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan events.Envelope, b.bufferSize)
	id := b.nextID
	b.nextID++
	if b.closed {
		// Not registered, so a later Unsubscribe finds nothing to close.
		close(ch)
		return &Subscription{id: id, b: b, Chan: ch}
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return &Subscription{id: id, b: b, Chan: ch}
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	sub, ok := s.b.subscribers[s.id]
	if !ok {
		return
	}
	delete(s.b.subscribers, s.id)
	close(sub.ch)
}

// Publish delivers ev to every current subscriber. A subscriber whose
// channel is full has its oldest buffered event dropped to make room
// (sliding window) rather than blocking the publisher or any other
// subscriber.
func (b *Broadcast) Publish(ev events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		publishOne(sub.ch, ev)
	}
}

func publishOne(ch chan events.Envelope, ev events.Envelope) {
	select {
	case ch <- ev:
		return
	default:
	}
	// Channel full: drop the oldest buffered event for this subscriber
	// only, then retry once. Other subscribers are untouched.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Close closes every subscriber's channel and marks the broadcast closed;
// further Subscribe calls return an already-closed channel. Used when a
// session is destroyed, cascading close to all subscribers.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[int]*subscriber)
}
