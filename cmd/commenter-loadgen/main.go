// commenter-loadgen opens a pool of WebSocket subscribers against an
// edge instance, publishes comment traffic into their groups and
// reports delivery throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	url         string
	connections int
	groups      int
	rampRate    int // connections per second
	publishers  int
	publishRate time.Duration // interval between SEND frames per publisher
	duration    time.Duration
	reportEvery time.Duration
}

type counters struct {
	active      atomic.Int64
	created     atomic.Int64
	failed      atomic.Int64
	delivered   atomic.Int64
	published   atomic.Int64
	errorFrames atomic.Int64
}

func main() {
	opts := parseFlags()
	stats := &counters{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	log.Printf("loadgen: %d connections across %d groups against %s", opts.connections, opts.groups, opts.url)

	var wg sync.WaitGroup
	go report(ctx, opts, stats)
	rampUp(ctx, opts, stats, &wg)

	for i := 0; i < opts.publishers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			publisher(ctx, opts, stats, id)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("loadgen: done. published=%d delivered=%d errors=%d failed-dials=%d",
		stats.published.Load(), stats.delivered.Load(), stats.errorFrames.Load(), stats.failed.Load())
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "edge WebSocket URL")
	flag.IntVar(&opts.connections, "connections", 100, "subscriber connections to open")
	flag.IntVar(&opts.groups, "groups", 10, "distinct comment groups to spread subscribers over")
	flag.IntVar(&opts.rampRate, "ramp-rate", 50, "connections opened per second")
	flag.IntVar(&opts.publishers, "publishers", 4, "connections that also publish comments")
	flag.DurationVar(&opts.publishRate, "publish-interval", 100*time.Millisecond, "interval between comments per publisher")
	flag.DurationVar(&opts.duration, "duration", 60*time.Second, "test duration, 0 to run until interrupted")
	flag.DurationVar(&opts.reportEvery, "report-interval", 5*time.Second, "reporting interval")
	flag.Parse()
	if opts.groups < 1 {
		opts.groups = 1
	}
	return opts
}

func groupName(i int) string {
	return fmt.Sprintf("group-%d", i)
}

func rampUp(ctx context.Context, opts options, stats *counters, wg *sync.WaitGroup) {
	interval := time.Second / time.Duration(maxInt(opts.rampRate, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < opts.connections; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		id := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			subscriber(ctx, opts, stats, id)
		}()
	}
}

// subscriber dials the edge, subscribes to one group and counts every
// MESSAGE frame it receives until the test ends.
func subscriber(ctx context.Context, opts options, stats *counters, id int) {
	conn, err := dial(ctx, opts.url)
	if err != nil {
		stats.failed.Add(1)
		return
	}
	defer conn.Close()
	stats.created.Add(1)
	stats.active.Add(1)
	defer stats.active.Add(-1)

	group := groupName(id % opts.groups)
	sub := fmt.Sprintf("SUBSCRIBE\ndestination:%s\nid:sub-%d\n\n", group, id)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		return
	}

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("DISCONNECT\n\n"))
		conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch {
		case strings.HasPrefix(string(data), "MESSAGE\n"):
			stats.delivered.Add(1)
		case strings.HasPrefix(string(data), "ERROR\n"):
			stats.errorFrames.Add(1)
		}
	}
}

// publisher dials its own connection and emits CREATE frames round
// robin over the groups at the configured interval.
func publisher(ctx context.Context, opts options, stats *counters, id int) {
	conn, err := dial(ctx, opts.url)
	if err != nil {
		stats.failed.Add(1)
		return
	}
	defer conn.Close()

	// Drain server frames so ERROR responses do not stall the socket.
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			if _, data, err := conn.ReadMessage(); err != nil {
				return
			} else if strings.HasPrefix(string(data), "ERROR\n") {
				stats.errorFrames.Add(1)
			}
		}
	}()

	ticker := time.NewTicker(opts.publishRate)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.TextMessage, []byte("DISCONNECT\n\n"))
			return
		case <-ticker.C:
		}
		group := groupName(seq % opts.groups)
		body := fmt.Sprintf("load comment %d from publisher %d", seq, id)
		frame := fmt.Sprintf("SEND\naction:CREATE\ndestination:%s\n\n%s\x00", group, body)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		stats.published.Add(1)
		seq++
	}
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, network, addr)
		},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

func report(ctx context.Context, opts options, stats *counters) {
	ticker := time.NewTicker(opts.reportEvery)
	defer ticker.Stop()

	var lastDelivered, lastPublished int64
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		delivered := stats.delivered.Load()
		published := stats.published.Load()
		log.Printf("t=%ds active=%d/%d failed=%d published=%d (%.0f/s) delivered=%d (%.0f/s) errors=%d",
			int(time.Since(start).Seconds()),
			stats.active.Load(), opts.connections,
			stats.failed.Load(),
			published, float64(published-lastPublished)/opts.reportEvery.Seconds(),
			delivered, float64(delivered-lastDelivered)/opts.reportEvery.Seconds(),
			stats.errorFrames.Load())
		lastDelivered, lastPublished = delivered, published
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
