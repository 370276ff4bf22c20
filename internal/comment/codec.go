package comment

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Bus payload field numbers. The layout is fixed; changing it breaks
// every consumer group reading the comments topic.
const (
	fieldID      protowire.Number = 1
	fieldGroupID protowire.Number = 2
	fieldText    protowire.Number = 3
	fieldState   protowire.Number = 4
)

var (
	// ErrBadState reports a state value outside the known enum range.
	ErrBadState = errors.New("comment: unknown state value")
	// ErrTruncated reports a payload that ends mid-field.
	ErrTruncated = errors.New("comment: truncated payload")
)

// Marshal encodes c into the tagged binary form carried on the bus.
// Zero-value fields are omitted, so the zero comment encodes to nil.
func (c Comment) Marshal() []byte {
	var b []byte
	if c.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, c.ID)
	}
	if c.GroupID != "" {
		b = protowire.AppendTag(b, fieldGroupID, protowire.BytesType)
		b = protowire.AppendString(b, c.GroupID)
	}
	if c.Text != "" {
		b = protowire.AppendTag(b, fieldText, protowire.BytesType)
		b = protowire.AppendString(b, c.Text)
	}
	if c.State != StateCreated {
		b = protowire.AppendTag(b, fieldState, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.State))
	}
	return b
}

// Unmarshal decodes a bus payload. Absent fields keep their zero
// values, unknown fields are skipped. A malformed field, a wrong wire
// type on a known field, or a state outside the enum range is an error.
func Unmarshal(data []byte) (Comment, error) {
	var c Comment
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Comment{}, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldID, fieldGroupID, fieldText:
			if typ != protowire.BytesType {
				return Comment{}, fmt.Errorf("comment: field %d: unexpected wire type %d", num, typ)
			}
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return Comment{}, fmt.Errorf("%w: field %d", ErrTruncated, num)
			}
			data = data[m:]
			switch num {
			case fieldID:
				c.ID = v
			case fieldGroupID:
				c.GroupID = v
			case fieldText:
				c.Text = v
			}
		case fieldState:
			if typ != protowire.VarintType {
				return Comment{}, fmt.Errorf("comment: field %d: unexpected wire type %d", num, typ)
			}
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Comment{}, fmt.Errorf("%w: field %d", ErrTruncated, num)
			}
			data = data[m:]
			s := State(int32(v))
			if !s.Valid() {
				return Comment{}, fmt.Errorf("%w: %d", ErrBadState, int32(v))
			}
			c.State = s
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Comment{}, fmt.Errorf("%w: field %d", ErrTruncated, num)
			}
			data = data[m:]
		}
	}
	return c, nil
}
