package logring

import (
	"sync"
	"time"
)

// DefaultCapacity is used when a Buffer is created with a non-positive capacity.
const DefaultCapacity = 1000

// Line is a single captured output line, timestamped at append time.
type Line struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Listener receives appended lines. It is invoked synchronously on the append
// path with the buffer lock held: it must return promptly and must not call
// back into the Buffer. Push transports should hand the line to a buffered
// channel and drop on overflow.
type Listener func(Line)

type subscription struct {
	id uint64
	fn Listener
}

// Buffer is a bounded, FIFO-evicting store of timestamped lines with live
// fan-out to subscribers. Safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	cap    int
	lines  []Line
	subs   []subscription
	nextID uint64
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.cap }

// Len returns the current number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Append stamps text, stores it (evicting the oldest line beyond capacity)
// and delivers it to every subscriber in registration order.
func (b *Buffer) Append(text string) {
	line := Line{At: time.Now(), Text: text}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == b.cap {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
	} else {
		b.lines = append(b.lines, line)
	}
	for _, s := range b.subs {
		s.fn(line)
	}
}

// Snapshot returns a copy of the buffered lines in append order.
func (b *Buffer) Snapshot() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Subscribe registers fn for all subsequent appends and returns a cancel
// function. Cancel is idempotent; after it returns fn is never called again.
func (b *Buffer) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(fn)
}

// SubscribeWithReplay first replays the current snapshot to fn, then registers
// it for live appends. Replay and registration happen atomically with respect
// to concurrent appends, so the listener observes no gaps and no duplicates.
func (b *Buffer) SubscribeWithReplay(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lines {
		fn(l)
	}
	return b.subscribeLocked(fn)
}

func (b *Buffer) subscribeLocked(fn Listener) func() {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Buffer) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
