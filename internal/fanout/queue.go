// Package fanout holds the connection registry, the group distribution
// map and the hub that routes one bus record to every subscribed
// connection's outbound queue.
package fanout

import (
	"sync"

	"github.com/PablitoCBR/commenter/internal/stomp"
)

// DefaultQueueSize is the per-connection outbound buffer used when the
// caller passes a non-positive size.
const DefaultQueueSize = 256

// Queue is one connection's outbound frame buffer. The hub holds the
// push side for broadcast; the connection's write pump owns the receive
// side exclusively. Pushes never block: when the buffer is full the
// oldest queued frame is dropped to admit the newest, so a slow reader
// loses history instead of stalling broadcasts.
type Queue struct {
	mu     sync.Mutex
	frames chan stomp.Frame
	closed bool
}

// NewQueue creates a queue buffering up to size frames.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{frames: make(chan stomp.Frame, size)}
}

// Push enqueues f without blocking. It reports whether the frame was
// accepted and whether an older frame was evicted to make room. A push
// on a closed queue is a no-op; teardown races with broadcast are
// expected and benign.
func (q *Queue) Push(f stomp.Frame) (enqueued, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	for {
		select {
		case q.frames <- f:
			return true, dropped
		default:
		}
		// Full: evict the oldest and retry. The write pump may race
		// us for the head, which only makes room either way.
		select {
		case <-q.frames:
			dropped = true
		default:
		}
	}
}

// Frames exposes the receive side for the connection's write pump. The
// channel closes when the queue is closed.
func (q *Queue) Frames() <-chan stomp.Frame {
	return q.frames
}

// Close shuts the queue. Idempotent; pending frames remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
}
