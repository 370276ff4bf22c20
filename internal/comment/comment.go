// Package comment defines the comment event model shared by the edge,
// the projector and the lookup tier, together with its bus codec.
package comment

import "fmt"

// State tracks where a comment is in its lifecycle. The numeric values
// are fixed by the bus payload and the hot storage schema.
type State int32

const (
	StateCreated State = 0
	StateUpdated State = 1
	StateDeleted State = 2
)

// String returns the action name carried in MESSAGE frame headers.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateUpdated:
		return "UPDATED"
	case StateDeleted:
		return "DELETED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	return s >= StateCreated && s <= StateDeleted
}

// Comment is the unit of traffic: minted at the edge, carried on the
// bus keyed by its group, projected into hot storage and served back by
// the lookup API. The JSON field names are the lookup API contract.
type Comment struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Text    string `json:"text"`
	State   State  `json:"state"`
}
