package fanout

import (
	"errors"

	"github.com/PablitoCBR/commenter/internal/stomp"
)

// ErrUnknownConnection reports a subscribe for a connection id that is
// not (or no longer) registered.
var ErrUnknownConnection = errors.New("fanout: unknown connection")

// Hub composes the registry and the distribution map into the fan-out
// engine. Broadcast is the hot path: both structures are read-locked
// just long enough to snapshot their state, and every enqueue happens
// outside the locks.
type Hub struct {
	registry *Registry
	groups   *Groups
	queueLen int
}

// NewHub creates a hub whose connections buffer queueLen outbound
// frames each.
func NewHub(queueLen int) *Hub {
	return &Hub{
		registry: NewRegistry(),
		groups:   NewGroups(),
		queueLen: queueLen,
	}
}

// Register creates the outbound queue for a new connection and returns
// its id together with the queue.
func (h *Hub) Register() (int64, *Queue) {
	q := NewQueue(h.queueLen)
	return h.registry.Add(q), q
}

// Unregister tears a connection down: group memberships first, then
// the registry entry, then the queue, so no broadcast started after
// this call can resolve the id.
func (h *Hub) Unregister(id int64) {
	h.groups.DropConn(id)
	if q := h.registry.Remove(id); q != nil {
		q.Close()
	}
}

// Subscribe adds id to group. Subscribing an unregistered connection is
// an error; re-subscribing is a no-op success.
func (h *Hub) Subscribe(id int64, group string) error {
	if !h.registry.Has(id) {
		return ErrUnknownConnection
	}
	h.groups.Add(group, id)
	return nil
}

// Unsubscribe removes id from group. Never errors; a group or member
// that is already gone needs no work.
func (h *Hub) Unsubscribe(id int64, group string) {
	h.groups.Remove(group, id)
}

// Broadcast enqueues frame on every subscriber of group and returns
// how many queues accepted it, along with how many evicted an older
// frame to do so. Members that disconnected between the snapshot and
// the push are skipped.
func (h *Hub) Broadcast(frame stomp.Frame, group string) (enqueued, dropped int) {
	ids := h.groups.Members(group)
	if len(ids) == 0 {
		return 0, 0
	}
	for _, q := range h.registry.Queues(ids) {
		ok, evicted := q.Push(frame)
		if ok {
			enqueued++
		}
		if evicted {
			dropped++
		}
	}
	return enqueued, dropped
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	return h.registry.Len()
}

// Subscribed reports whether id currently belongs to group.
func (h *Hub) Subscribed(id int64, group string) bool {
	return h.groups.Contains(group, id)
}
