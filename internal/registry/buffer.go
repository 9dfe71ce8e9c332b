package registry

import (
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

// item is a single queued outbound frame, tagged with the deadline that
// governs whether it is still worth sending after a reconnect.
type item struct {
	frame     *ocpp.Frame
	enqueued  time.Time
	expiresAt time.Time // zero for CALLRESULT/CALLERROR, which never expire
}

// Buffer is the per-station FIFO outbound queue (C3). A station's CALLs are
// appended here only when the socket is down or a direct send fails; the
// registry entry backing a CALL is created before it is enqueued, so a late
// CALLRESULT arriving after a reconnect still resolves it.
//
// CALLRESULT/CALLERROR frames (responses to the central system) are also
// queued here when their direct send fails.
type Buffer struct {
	mu    sync.Mutex
	items []item
}

// NewBuffer creates an empty outbound buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Enqueue appends a frame to the tail of the queue. deadline is zero for
// frames that never expire (CALLRESULT, CALLERROR).
func (b *Buffer) Enqueue(frame *ocpp.Frame, deadline time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item{frame: frame, enqueued: time.Now(), expiresAt: deadline})
}

// Peek returns the head item without removing it, so the connection manager
// can attempt a send and only dequeue on success.
func (b *Buffer) Peek() (*ocpp.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[0].frame, true
}

// Dequeue removes the head item after a successful send.
func (b *Buffer) Dequeue() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return
	}
	b.items = b.items[1:]
}

// DropExpired removes head items whose deadline has already passed, as
// judged at drain time (e.g. after a long reconnect backoff). Dropped
// frames are reported to the caller so the registry can be told to fail
// them with ocpp.ErrTimeout instead of leaving a dangling entry.
func (b *Buffer) DropExpired(now time.Time) []*ocpp.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []*ocpp.Frame
	for len(b.items) > 0 {
		head := b.items[0]
		if head.expiresAt.IsZero() || now.Before(head.expiresAt) {
			break
		}
		dropped = append(dropped, head.frame)
		b.items = b.items[1:]
	}
	return dropped
}

// Len reports the number of queued frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
