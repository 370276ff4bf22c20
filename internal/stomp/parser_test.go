package stomp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PablitoCBR/commenter/internal/comment"
)

func TestDecodeCommands(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ClientFrame
	}{
		{
			"disconnect bare",
			"DISCONNECT\n\n",
			Disconnect{},
		},
		{
			"disconnect ignores headers and body",
			"DISCONNECT\nid:whatever\n\nleftover\x00",
			Disconnect{},
		},
		{
			"subscribe",
			"SUBSCRIBE\ndestination:room-1\nid:s1\n\n",
			Subscribe{Destination: "room-1", Label: "s1"},
		},
		{
			"unsubscribe",
			"UNSUBSCRIBE\nid:s1\n\n",
			Unsubscribe{Label: "s1"},
		},
		{
			"send create",
			"SEND\naction:CREATE\ndestination:room-1\n\nhello\x00",
			SendCreate{Destination: "room-1", Text: "hello"},
		},
		{
			"send create empty body",
			"SEND\naction:CREATE\ndestination:room-1\n\n\x00",
			SendCreate{Destination: "room-1"},
		},
		{
			"send update",
			"SEND\naction:UPDATE\nid:x\n\nnew text\x00",
			SendUpdate{ID: "x", Text: "new text"},
		},
		{
			"send delete ignores body",
			"SEND\naction:DELETE\nid:x\n\nstale\x00",
			SendDelete{ID: "x"},
		},
		{
			"body without NUL runs to end",
			"SEND\naction:CREATE\ndestination:g\n\nno terminator here",
			SendCreate{Destination: "g", Text: "no terminator here"},
		},
		{
			"content after NUL ignored",
			"SEND\naction:CREATE\ndestination:g\n\nbody\x00trailing junk",
			SendCreate{Destination: "g", Text: "body"},
		},
		{
			"body may contain newlines and colons",
			"SEND\naction:UPDATE\nid:x\n\nline1\nname:value\nline2\x00",
			SendUpdate{ID: "x", Text: "line1\nname:value\nline2"},
		},
		{
			"duplicate header last wins",
			"SUBSCRIBE\ndestination:a\ndestination:b\nid:s1\n\n",
			Subscribe{Destination: "b", Label: "s1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Every logical frame must decode identically whether lines end in LF,
// CRLF, or a mix of the two.
func TestDecodeLineTerminatorVariants(t *testing.T) {
	frames := []string{
		"DISCONNECT\n\n",
		"SUBSCRIBE\ndestination:room-1\nid:s1\n\n",
		"UNSUBSCRIBE\nid:s1\n\n",
		"SEND\naction:CREATE\ndestination:room-1\n\nhello\x00",
		"SEND\naction:UPDATE\nid:x\n\nnew\x00",
		"SEND\naction:DELETE\nid:x\n\n",
	}
	for _, lf := range frames {
		crlf := strings.ReplaceAll(lf, "\n", "\r\n")

		fromLF, err := Decode([]byte(lf))
		require.NoError(t, err, lf)
		fromCRLF, err := Decode([]byte(crlf))
		require.NoError(t, err, crlf)
		assert.Equal(t, fromLF, fromCRLF)
	}

	// Mixed terminators within one frame.
	mixed := "SUBSCRIBE\r\ndestination:room-1\nid:s1\r\n\n"
	got, err := Decode([]byte(mixed))
	require.NoError(t, err)
	assert.Equal(t, Subscribe{Destination: "room-1", Label: "s1"}, got)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown command", "CONNECT\n\n", ErrUnknownCommand},
		{"no header terminator", "SEND\naction:CREATE", ErrTruncated},
		{"empty input", "", ErrTruncated},
		{"header without colon", "SUBSCRIBE\ndestination room-1\nid:s1\n\n", ErrMalformedHeader},
		{"header with two colons", "SUBSCRIBE\ndestination:room:1\nid:s1\n\n", ErrMalformedHeader},
		{"subscribe missing destination", "SUBSCRIBE\nid:s1\n\n", ErrMissingHeader},
		{"subscribe missing id", "SUBSCRIBE\ndestination:room-1\n\n", ErrMissingHeader},
		{"subscribe empty id", "SUBSCRIBE\ndestination:room-1\nid:\n\n", ErrMissingHeader},
		{"unsubscribe missing id", "UNSUBSCRIBE\n\n", ErrMissingHeader},
		{"send missing action", "SEND\ndestination:room-1\n\nhi\x00", ErrMissingHeader},
		{"send unknown action", "SEND\naction:UPSERT\nid:x\n\nhi\x00", ErrBadAction},
		{"create missing destination", "SEND\naction:CREATE\n\nhi\x00", ErrMissingHeader},
		{"update missing id", "SEND\naction:UPDATE\n\nhi\x00", ErrMissingHeader},
		{"delete missing id", "SEND\naction:DELETE\n\n", ErrMissingHeader},
		{"create body not utf8", "SEND\naction:CREATE\ndestination:g\n\n\xff\xfe\x00", ErrBadBody},
		{"update body not utf8", "SEND\naction:UPDATE\nid:x\n\n\xff\xfe\x00", ErrBadBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSerializeUsesLFOnlyAndNoNUL(t *testing.T) {
	f := Frame{
		Command: CommandMessage,
		Headers: map[string]string{
			HeaderDestination: "room-1",
			HeaderID:          "c-1",
			HeaderAction:      "CREATED",
		},
		Body: "hello",
	}
	out := string(f.Serialize())

	assert.NotContains(t, out, "\r")
	assert.NotContains(t, out, "\x00")
	assert.Equal(t, "MESSAGE\naction:CREATED\ndestination:room-1\nid:c-1\n\nhello", out)
}

func TestSerializeEmptyBodyAndHeaders(t *testing.T) {
	out := string(Frame{Command: CommandError}.Serialize())
	assert.Equal(t, "ERROR\n\n", out)
}

// Serialized server frames survive a trip through the inbound line
// scanner: command, header set and body all come back intact. MESSAGE
// is not a client command, so the round-trip reuses the header scan via
// a synthetic SEND envelope carrying the same header block.
func TestSerializeHeaderRoundTrip(t *testing.T) {
	headers := map[string]string{
		"destination": "room-1",
		"id":          "c-9",
		"action":      "UPDATED",
	}
	f := Frame{Command: CommandMessage, Headers: headers, Body: "body text\nwith a second line"}
	wire := f.Serialize()

	lines := strings.SplitN(string(wire), "\n\n", 2)
	require.Len(t, lines, 2)
	assert.Equal(t, "body text\nwith a second line", lines[1])

	got := map[string]string{}
	header := strings.Split(lines[0], "\n")
	assert.Equal(t, "MESSAGE", header[0])
	for _, line := range header[1:] {
		kv := strings.SplitN(line, ":", 2)
		require.Len(t, kv, 2)
		got[kv[0]] = kv[1]
	}
	assert.Equal(t, headers, got)
}

func TestNewMessage(t *testing.T) {
	f := NewMessage(comment.Comment{ID: "x", GroupID: "room-1", Text: "hi", State: comment.StateCreated})
	assert.Equal(t, CommandMessage, f.Command)
	assert.Equal(t, "room-1", f.Headers[HeaderDestination])
	assert.Equal(t, "x", f.Headers[HeaderID])
	assert.Equal(t, "CREATED", f.Headers[HeaderAction])
	assert.Equal(t, "hi", f.Body)
}

func TestNewError(t *testing.T) {
	f := NewError("parse failed")
	assert.Equal(t, CommandError, f.Command)
	assert.Equal(t, "parse failed", f.Headers[HeaderMessage])
	assert.Empty(t, f.Body)
}
