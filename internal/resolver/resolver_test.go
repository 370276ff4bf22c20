package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PablitoCBR/commenter/internal/comment"
)

func TestResolveOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/comments/x", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","group_id":"room-1","text":"old","state":0}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zerolog.Nop())
	got, err := c.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, comment.Comment{ID: "x", GroupID: "room-1", Text: "old", State: comment.StateCreated}, got)
}

func TestResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"comment not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "500")
}

func TestResolveBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "x")
	require.Error(t, err)
}

func TestResolveBadState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","group_id":"g","text":"t","state":9}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad state")
}

func TestResolveTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, 50*time.Millisecond, zerolog.Nop())
	start := time.Now()
	_, err := c.Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveTransportError(t *testing.T) {
	// Nothing listens here.
	c := New("http://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())
	_, err := c.Resolve(context.Background(), "x")
	require.Error(t, err)
}
