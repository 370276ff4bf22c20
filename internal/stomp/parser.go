package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnknownCommand reports a command outside the client vocabulary.
	ErrUnknownCommand = errors.New("stomp: unknown command")
	// ErrMissingHeader reports a required header that is absent or empty.
	ErrMissingHeader = errors.New("stomp: missing header")
	// ErrMalformedHeader reports a header line without exactly one colon.
	ErrMalformedHeader = errors.New("stomp: malformed header")
	// ErrTruncated reports a frame that ends before its header block does.
	ErrTruncated = errors.New("stomp: truncated frame")
	// ErrBadAction reports a SEND action outside CREATE/UPDATE/DELETE.
	ErrBadAction = errors.New("stomp: unknown send action")
	// ErrBadBody reports a text body that is not valid UTF-8.
	ErrBadBody = errors.New("stomp: body is not valid UTF-8")
)

// Decode parses one complete inbound frame. Line terminators may be LF
// or CRLF and the two may be mixed within a single frame. The body runs
// from the first blank line to the NUL terminator when one is present;
// anything after the NUL is ignored. A frame without a NUL takes the
// remainder as its body, so header-only frames need no terminator.
func Decode(data []byte) (ClientFrame, error) {
	command, rest, err := readLine(data)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	for {
		var line string
		line, rest, err = readLine(rest)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		parts := strings.Split(line, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		// Duplicate names: last one wins.
		headers[parts[0]] = parts[1]
	}

	body := rest
	if nul := bytes.IndexByte(rest, 0); nul >= 0 {
		body = rest[:nul]
	}

	switch command {
	case CommandDisconnect:
		return Disconnect{}, nil
	case CommandSubscribe:
		dest, err := requireHeader(headers, HeaderDestination, command)
		if err != nil {
			return nil, err
		}
		label, err := requireHeader(headers, HeaderID, command)
		if err != nil {
			return nil, err
		}
		return Subscribe{Destination: dest, Label: label}, nil
	case CommandUnsubscribe:
		label, err := requireHeader(headers, HeaderID, command)
		if err != nil {
			return nil, err
		}
		return Unsubscribe{Label: label}, nil
	case CommandSend:
		return decodeSend(headers, body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

func decodeSend(headers map[string]string, body []byte) (ClientFrame, error) {
	action, err := requireHeader(headers, HeaderAction, CommandSend)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionCreate:
		dest, err := requireHeader(headers, HeaderDestination, CommandSend)
		if err != nil {
			return nil, err
		}
		text, err := textBody(body)
		if err != nil {
			return nil, err
		}
		return SendCreate{Destination: dest, Text: text}, nil
	case ActionUpdate:
		id, err := requireHeader(headers, HeaderID, CommandSend)
		if err != nil {
			return nil, err
		}
		text, err := textBody(body)
		if err != nil {
			return nil, err
		}
		return SendUpdate{ID: id, Text: text}, nil
	case ActionDelete:
		id, err := requireHeader(headers, HeaderID, CommandSend)
		if err != nil {
			return nil, err
		}
		return SendDelete{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadAction, action)
	}
}

// readLine returns the next line without its terminator. A single
// trailing CR is stripped so CRLF input parses the same as LF.
func readLine(data []byte) (string, []byte, error) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, ErrTruncated
	}
	line := data[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), data[i+1:], nil
}

func requireHeader(headers map[string]string, name, command string) (string, error) {
	v := headers[name]
	if v == "" {
		return "", fmt.Errorf("%w: %s requires %q", ErrMissingHeader, command, name)
	}
	return v, nil
}

func textBody(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", ErrBadBody
	}
	return string(body), nil
}
