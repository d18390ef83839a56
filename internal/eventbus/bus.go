// Package eventbus is a small in-process fanout bus. The workflow scheduler
// publishes job lifecycle events on it; the app tails them into the bounded
// history served by the debug endpoints.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Job lifecycle event types published by the workflow scheduler.
const (
	TypeJobFired     = "job.fired"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

// Event is one published signal. Data is a small, JSON-serializable payload
// (scheduler.JobEvent for the job types).
//
// Delivery contract: Publish never blocks, so a subscriber that falls behind
// its buffer loses events rather than stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; Publish runs inline
// on the caller.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot the subscriber set so no lock is held during the sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		b.send(ch, e)
	}
}

// send delivers best-effort: a full buffer drops the event, and a channel
// closed by a concurrent unsubscribe is absorbed by the recover.
func (b *memBus) send(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe because send recovers from the closed-channel panic.
			close(ch)
		})
	}
	return ch, unsub
}
