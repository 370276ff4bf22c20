package fanout

import "sync"

// Groups is the distribution map: group id to the set of connection
// ids subscribed to it. It carries its own lock, separate from the
// registry's, so subscription churn does not serialize with
// registration churn.
type Groups struct {
	mu      sync.RWMutex
	members map[string]map[int64]struct{}
}

// NewGroups creates an empty distribution map.
func NewGroups() *Groups {
	return &Groups{members: make(map[string]map[int64]struct{})}
}

// Add subscribes id to group. Re-adding is a no-op.
func (g *Groups) Add(group string, id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.members[group]
	if set == nil {
		set = make(map[int64]struct{})
		g.members[group] = set
	}
	set[id] = struct{}{}
}

// Remove unsubscribes id from group. Missing group or missing id are
// both no-ops. Empty sets are pruned.
func (g *Groups) Remove(group string, id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[group]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(g.members, group)
	}
}

// Members returns a copy of the subscriber set for group, taken under
// the read lock so broadcasts never hold it while enqueuing.
func (g *Groups) Members(group string) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.members[group]
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// DropConn removes id from every group. Called on connection teardown
// before the registry entry goes away.
func (g *Groups) DropConn(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for group, set := range g.members {
		delete(set, id)
		if len(set) == 0 {
			delete(g.members, group)
		}
	}
}

// Contains reports whether id is subscribed to group.
func (g *Groups) Contains(group string, id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[group][id]
	return ok
}
