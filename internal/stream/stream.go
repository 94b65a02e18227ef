// Package stream bridges the synchronous log buffer fan-out onto push
// transports (SSE, WebSocket). Buffer listeners run under the buffer lock and
// must not block, so an Attachment decouples them through a buffered channel
// and drops lines when a consumer cannot keep up.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/agentdeck/agentdeck/internal/logring"
)

// slack beyond the buffer capacity absorbs the replay burst plus live lines
// arriving while the consumer drains it.
const slack = 64

// Attachment is a single consumer's live view of a log buffer. Lines are
// delivered in append order; when the internal channel is full further lines
// are dropped (and counted) rather than stalling the producer.
type Attachment struct {
	ch      chan logring.Line
	cancel  func()
	once    sync.Once
	dropped atomic.Uint64
}

// Attach subscribes to buf and returns an Attachment. With replay true the
// buffered history is delivered first, gap-free, before live lines.
func Attach(buf *logring.Buffer, replay bool) *Attachment {
	a := &Attachment{ch: make(chan logring.Line, buf.Cap()+slack)}
	fn := func(l logring.Line) {
		select {
		case a.ch <- l:
		default:
			a.dropped.Add(1)
		}
	}
	if replay {
		a.cancel = buf.SubscribeWithReplay(fn)
	} else {
		a.cancel = buf.Subscribe(fn)
	}
	return a
}

// Lines returns the delivery channel. It is closed by Detach.
func (a *Attachment) Lines() <-chan logring.Line { return a.ch }

// Dropped returns the number of lines discarded due to consumer backpressure.
func (a *Attachment) Dropped() uint64 { return a.dropped.Load() }

// Detach cancels the subscription and closes the channel. Idempotent. The
// cancel completes under the buffer lock, so no send can race the close.
func (a *Attachment) Detach() {
	a.once.Do(func() {
		a.cancel()
		close(a.ch)
	})
}
