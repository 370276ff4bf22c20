// Package limits provides admission rate limiting for new WebSocket
// connections: a token bucket per client IP plus one global bucket.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionLimiter gates connection attempts before the WebSocket
// upgrade. Both buckets must admit an attempt; per-IP entries idle out
// after a TTL so the map does not grow without bound.
type ConnectionLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int
	ipTTL   time.Duration

	global *rate.Limiter
	logger zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectionLimiterConfig configures a ConnectionLimiter. Zero values
// take the defaults noted per field.
type ConnectionLimiterConfig struct {
	IPRate      float64       // sustained attempts/sec per IP (default 2)
	IPBurst     int           // burst per IP (default 10)
	IPTTL       time.Duration // idle eviction for IP buckets (default 5m)
	GlobalRate  float64       // sustained attempts/sec overall (default 100)
	GlobalBurst int           // overall burst (default 200)
	Logger      zerolog.Logger
}

// NewConnectionLimiter builds the limiter and starts its cleanup loop.
func NewConnectionLimiter(cfg ConnectionLimiterConfig) *ConnectionLimiter {
	if cfg.IPRate <= 0 {
		cfg.IPRate = 2
	}
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPTTL <= 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = 100
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 200
	}

	l := &ConnectionLimiter{
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(cfg.IPRate),
		ipBurst: cfg.IPBurst,
		ipTTL:   cfg.IPTTL,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:  cfg.Logger.With().Str("component", "conn_limiter").Logger(),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from ip may proceed.
func (l *ConnectionLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Warn().Str("ip", ip).Msg("global connection rate exceeded")
		return false
	}

	l.mu.Lock()
	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	if !entry.limiter.Allow() {
		l.logger.Warn().Str("ip", ip).Msg("per-ip connection rate exceeded")
		return false
	}
	return true
}

// Stop halts the cleanup loop.
func (l *ConnectionLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ConnectionLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, entry := range l.perIP {
				if now.Sub(entry.lastSeen) > l.ipTTL {
					delete(l.perIP, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
