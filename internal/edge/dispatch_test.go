package edge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"

	"github.com/PablitoCBR/commenter/internal/comment"
	"github.com/PablitoCBR/commenter/internal/config"
	"github.com/PablitoCBR/commenter/internal/metrics"
	"github.com/PablitoCBR/commenter/internal/resolver"
	"github.com/PablitoCBR/commenter/internal/stomp"
)

type fakeProducer struct {
	mu        sync.Mutex
	published []comment.Comment
	err       error
}

func (f *fakeProducer) Publish(_ context.Context, c comment.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, c)
	return nil
}

func (f *fakeProducer) all() []comment.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]comment.Comment(nil), f.published...)
}

type fakeResolver struct {
	mu       sync.Mutex
	comments map[string]comment.Comment
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(_ context.Context, id string) (comment.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return comment.Comment{}, f.err
	}
	c, ok := f.comments[id]
	if !ok {
		return comment.Comment{}, fmt.Errorf("%w: %q", resolver.ErrNotFound, id)
	}
	return c, nil
}

func testConfig() config.Edge {
	return config.Edge{
		ListenAddress:  "127.0.0.1",
		Topic:          "comments",
		QueueSize:      16,
		MaxConnections: 8,
		ReadTimeout:    5 * time.Second,
		MsgRate:        1000,
		MsgBurst:       1000,
		ShutdownGrace:  500 * time.Millisecond,
	}
}

func newTestServer(producer *fakeProducer, res *fakeResolver) *Server {
	return NewServer(Options{
		Config:   testConfig(),
		Logger:   zerolog.Nop(),
		Producer: producer,
		Resolver: res,
		Metrics:  metrics.NewRegistry(),
	})
}

func newTestSession(s *Server) *session {
	id, q := s.hub.Register()
	return &session{
		id:      id,
		queue:   q,
		subs:    make(map[string]string),
		limiter: rate.NewLimiter(1000, 1000),
		logger:  zerolog.Nop(),
	}
}

func popFrame(t *testing.T, sess *session) stomp.Frame {
	t.Helper()
	select {
	case f := <-sess.queue.Frames():
		return f
	default:
		t.Fatal("expected a queued frame")
		return stomp.Frame{}
	}
}

func TestDispatchCreateMintsUUID(t *testing.T) {
	producer := &fakeProducer{}
	res := &fakeResolver{}
	s := newTestServer(producer, res)
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendCreate{Destination: "room-1", Text: "hello"})

	published := producer.all()
	require.Len(t, published, 1)
	got := published[0]
	assert.Equal(t, "room-1", got.GroupID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, comment.StateCreated, got.State)
	_, err := uuid.Parse(got.ID)
	assert.NoError(t, err)

	// CREATE never consults the resolver.
	assert.Zero(t, res.calls)
}

func TestDispatchUpdateResolvesPriorGroup(t *testing.T) {
	producer := &fakeProducer{}
	res := &fakeResolver{comments: map[string]comment.Comment{
		"x": {ID: "x", GroupID: "room-1", Text: "old", State: comment.StateCreated},
	}}
	s := newTestServer(producer, res)
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendUpdate{ID: "x", Text: "new"})

	published := producer.all()
	require.Len(t, published, 1)
	assert.Equal(t, comment.Comment{ID: "x", GroupID: "room-1", Text: "new", State: comment.StateUpdated}, published[0])
	assert.Equal(t, 1, res.calls)
}

func TestDispatchDeleteInheritsTextAndGroup(t *testing.T) {
	producer := &fakeProducer{}
	res := &fakeResolver{comments: map[string]comment.Comment{
		"x": {ID: "x", GroupID: "room-1", Text: "old", State: comment.StateCreated},
	}}
	s := newTestServer(producer, res)
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendDelete{ID: "x"})

	published := producer.all()
	require.Len(t, published, 1)
	assert.Equal(t, comment.Comment{ID: "x", GroupID: "room-1", Text: "old", State: comment.StateDeleted}, published[0])
}

func TestDispatchResolveFailureDropsSend(t *testing.T) {
	producer := &fakeProducer{}
	res := &fakeResolver{}
	s := newTestServer(producer, res)
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendUpdate{ID: "missing", Text: "new"})

	assert.Empty(t, producer.all())
	errFrame := popFrame(t, sess)
	assert.Equal(t, stomp.CommandError, errFrame.Command)
	assert.Equal(t, "unknown comment id", errFrame.Headers[stomp.HeaderMessage])
}

func TestDispatchResolverErrorOutcome(t *testing.T) {
	producer := &fakeProducer{}
	res := &fakeResolver{err: errors.New("api tier down")}
	s := newTestServer(producer, res)
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendDelete{ID: "x"})

	assert.Empty(t, producer.all())
	errFrame := popFrame(t, sess)
	assert.Equal(t, "prior state lookup failed", errFrame.Headers[stomp.HeaderMessage])
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ResolverLookups.WithLabelValues("error")))
}

func TestDispatchPublishFailureNotifiesClient(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unreachable")}
	s := newTestServer(producer, &fakeResolver{})
	sess := newTestSession(s)

	s.dispatch(sess, stomp.SendCreate{Destination: "room-1", Text: "hi"})

	errFrame := popFrame(t, sess)
	assert.Equal(t, stomp.CommandError, errFrame.Command)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ProduceFailures))
}

func TestDispatchSubscribeTracksLabel(t *testing.T) {
	s := newTestServer(&fakeProducer{}, &fakeResolver{})
	sess := newTestSession(s)

	s.dispatch(sess, stomp.Subscribe{Destination: "room-1", Label: "s1"})
	assert.True(t, s.hub.Subscribed(sess.id, "room-1"))
	assert.Equal(t, map[string]string{"s1": "room-1"}, sess.subs)

	// Reusing the label rebinds the subscription to the new group.
	s.dispatch(sess, stomp.Subscribe{Destination: "room-2", Label: "s1"})
	assert.False(t, s.hub.Subscribed(sess.id, "room-1"))
	assert.True(t, s.hub.Subscribed(sess.id, "room-2"))
	assert.Equal(t, map[string]string{"s1": "room-2"}, sess.subs)
}

func TestDispatchUnsubscribeByLabel(t *testing.T) {
	s := newTestServer(&fakeProducer{}, &fakeResolver{})
	sess := newTestSession(s)

	s.dispatch(sess, stomp.Subscribe{Destination: "room-1", Label: "s1"})
	s.dispatch(sess, stomp.Unsubscribe{Label: "s1"})

	assert.False(t, s.hub.Subscribed(sess.id, "room-1"))
	assert.Empty(t, sess.subs)
}

func TestDispatchUnsubscribeUnknownLabelIsNoOp(t *testing.T) {
	s := newTestServer(&fakeProducer{}, &fakeResolver{})
	sess := newTestSession(s)

	s.dispatch(sess, stomp.Subscribe{Destination: "room-1", Label: "s1"})
	s.dispatch(sess, stomp.Unsubscribe{Label: "other"})

	// The real subscription is untouched.
	assert.True(t, s.hub.Subscribed(sess.id, "room-1"))
}

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]*kgo.Record
}

func (f *scriptedSource) Poll(ctx context.Context) []*kgo.Record {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func TestConsumeLoopSkipsUndecodableRecords(t *testing.T) {
	good := comment.Comment{ID: "x", GroupID: "room-1", Text: "hi", State: comment.StateCreated}
	source := &scriptedSource{batches: [][]*kgo.Record{{
		{Topic: "comments", Value: []byte{0xff, 0xff}},
		{Topic: "comments", Key: []byte("room-1"), Value: good.Marshal()},
	}}}

	s := NewServer(Options{
		Config:   testConfig(),
		Logger:   zerolog.Nop(),
		Producer: &fakeProducer{},
		Resolver: &fakeResolver{},
		Source:   source,
		Metrics:  metrics.NewRegistry(),
	})
	sess := newTestSession(s)
	require.NoError(t, s.hub.Subscribe(sess.id, "room-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consumeLoop()
	}()

	// The bad record is skipped and the good one still fans out.
	var delivered stomp.Frame
	select {
	case delivered = <-sess.queue.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	assert.Equal(t, stomp.CommandMessage, delivered.Command)
	assert.Equal(t, "hi", delivered.Body)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.BusDecodeFailures))

	s.cancel()
	<-done
}
