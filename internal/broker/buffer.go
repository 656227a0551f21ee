package broker

import "sync"

// PendingBuffer is a bounded FIFO of events awaiting replay. When full,
// new events are dropped; existing entries are never evicted to make
// room, so the oldest events survive an extended outage.
type PendingBuffer struct {
	mu       sync.Mutex
	events   []PendingEvent
	capacity int
}

// NewPendingBuffer creates a buffer with the given capacity.
func NewPendingBuffer(capacity int) *PendingBuffer {
	return &PendingBuffer{capacity: capacity}
}

// Append adds an event at the tail. It returns false, leaving the
// buffer untouched, when the buffer is full.
func (b *PendingBuffer) Append(evt PendingEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.capacity {
		return false
	}
	b.events = append(b.events, evt)
	return true
}

// TakeAll removes and returns every buffered event in FIFO order.
func (b *PendingBuffer) TakeAll() []PendingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	b.events = nil
	return events
}

// Restore puts events that failed to replay back at the head of the
// buffer, ahead of anything appended since TakeAll, so the original
// order is preserved for the next drain. When the restore pushes the
// buffer past capacity the newest entries are cut from the tail; the
// number cut is returned so the caller can surface the drops.
func (b *PendingBuffer) Restore(events []PendingEvent) int {
	if len(events) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(events, b.events...)
	if dropped := len(b.events) - b.capacity; dropped > 0 {
		b.events = b.events[:b.capacity]
		return dropped
	}
	return 0
}

// Len returns the number of buffered events.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
