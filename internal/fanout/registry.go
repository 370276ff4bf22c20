package fanout

import (
	"sync"
	"sync/atomic"
)

// Registry maps connection ids to their outbound queues. Ids come from
// a process-global monotonic counter and are never reused, so a late
// broadcast can never reach a queue that belongs to a newer connection.
type Registry struct {
	mu     sync.RWMutex
	queues map[int64]*Queue
	nextID atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[int64]*Queue)}
}

// Add registers q under a freshly minted connection id.
func (r *Registry) Add(q *Queue) int64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.queues[id] = q
	r.mu.Unlock()
	return id
}

// Remove deletes the connection and returns its queue so the caller
// can close it after the id is unreachable. Nil when id is unknown.
func (r *Registry) Remove(id int64) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[id]
	delete(r.queues, id)
	return q
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.queues[id]
	return ok
}

// Queues resolves ids to queue handles under a single read lock. Ids
// that raced a teardown are silently skipped.
func (r *Registry) Queues(ids []int64) []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Queue, 0, len(ids))
	for _, id := range ids {
		if q, ok := r.queues[id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}
