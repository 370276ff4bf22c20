// Package resolver fetches the last stored state of a comment from the
// lookup API. UPDATE and DELETE flows need it to recover the group and,
// for deletes, the text the client did not send.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/PablitoCBR/commenter/internal/comment"
)

// ErrNotFound reports that the lookup tier has no row for the id.
var ErrNotFound = errors.New("resolver: comment not found")

// Client is the prior-state lookup client. The edge calls it inline
// while handling a SEND, so every request is bounded by the configured
// timeout; an unresponsive lookup tier must not wedge a connection
// forever.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// New creates a client against base, e.g. "http://127.0.0.1:8000".
func New(base string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the stored comment for id. Transport errors, non-200
// statuses and undecodable bodies all come back as a single error;
// 404 maps to ErrNotFound.
func (c *Client) Resolve(ctx context.Context, id string) (comment.Comment, error) {
	url := fmt.Sprintf("%s/api/comments/%s", c.base, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return comment.Comment{}, fmt.Errorf("resolver: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return comment.Comment{}, fmt.Errorf("resolver: lookup %q: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return comment.Comment{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	default:
		return comment.Comment{}, fmt.Errorf("resolver: lookup %q: unexpected status %d", id, resp.StatusCode)
	}

	var out comment.Comment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return comment.Comment{}, fmt.Errorf("resolver: decode %q: %w", id, err)
	}
	if !out.State.Valid() {
		return comment.Comment{}, fmt.Errorf("resolver: decode %q: bad state %d", id, out.State)
	}

	c.logger.Debug().
		Str("comment_id", out.ID).
		Str("group_id", out.GroupID).
		Msg("resolved prior state")
	return out, nil
}
