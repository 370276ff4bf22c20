// Package stomp implements the STOMP-like framing spoken between the
// edge and its WebSocket clients: a line-oriented text protocol with a
// command, a header block and an optional body.
package stomp

import (
	"sort"
	"strings"

	"github.com/PablitoCBR/commenter/internal/comment"
)

// Client commands accepted by the parser.
const (
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
)

// Server commands emitted by the serializer.
const (
	CommandMessage = "MESSAGE"
	CommandError   = "ERROR"
)

// Header names used on the wire.
const (
	HeaderDestination = "destination"
	HeaderID          = "id"
	HeaderAction      = "action"
	HeaderMessage     = "message"
)

// SEND action header values.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Frame is an outbound server frame. Headers hold single values; order
// on the wire is not significant.
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// Serialize renders f for the wire: command, header lines, a blank
// line, then the body. Lines end with LF only and no NUL terminator is
// appended; the WebSocket message boundary delimits the frame. Headers
// are written in sorted order so output is deterministic.
func (f Frame) Serialize() []byte {
	var b strings.Builder
	b.WriteString(f.Command)
	b.WriteByte('\n')

	names := make([]string, 0, len(f.Headers))
	for name := range f.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(f.Headers[name])
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(f.Body)
	return []byte(b.String())
}

// NewMessage builds the MESSAGE frame that delivers c to a subscriber.
func NewMessage(c comment.Comment) Frame {
	return Frame{
		Command: CommandMessage,
		Headers: map[string]string{
			HeaderDestination: c.GroupID,
			HeaderID:          c.ID,
			HeaderAction:      c.State.String(),
		},
		Body: c.Text,
	}
}

// NewError builds an ERROR frame carrying a short diagnostic for the
// client. The connection stays open; ERROR is advisory.
func NewError(msg string) Frame {
	return Frame{
		Command: CommandError,
		Headers: map[string]string{HeaderMessage: msg},
	}
}

// ClientFrame is the decoded form of one inbound frame. The concrete
// types below are the only implementations.
type ClientFrame interface {
	clientFrame()
}

// SendCreate publishes a new comment to a group.
type SendCreate struct {
	Destination string
	Text        string
}

// SendUpdate replaces the text of an existing comment.
type SendUpdate struct {
	ID   string
	Text string
}

// SendDelete tombstones an existing comment.
type SendDelete struct {
	ID string
}

// Subscribe registers interest in a group. Label is the client-chosen
// subscription id later referenced by Unsubscribe.
type Subscribe struct {
	Destination string
	Label       string
}

// Unsubscribe cancels the subscription previously made under Label.
type Unsubscribe struct {
	Label string
}

// Disconnect asks the server to close the connection.
type Disconnect struct{}

func (SendCreate) clientFrame()  {}
func (SendUpdate) clientFrame()  {}
func (SendDelete) clientFrame()  {}
func (Subscribe) clientFrame()   {}
func (Unsubscribe) clientFrame() {}
func (Disconnect) clientFrame()  {}
