// Package ratelimit implements the token-bucket admission control
// described for the Stratum front door: a global connection cap, a
// per-IP cap and connect-rate bucket, soft-ban, and four per-connection
// buckets (subscribe/authorize/submit/invalid-share), plus a background
// reaper that evicts stale, idle per-IP entries.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	cleanupInterval = 60 * time.Second
	staleThreshold  = 300 * time.Second
)

// Config mirrors spec §6's recognized rate-limiter options.
type Config struct {
	ConnectionsPerIPPerMinute uint32
	MaxConnectionsPerIP       int32
	MaxSubscribesPerMinute    uint32
	MaxAuthorizesPerMinute    uint32
	MaxSharesPerMinute        uint32
	MaxInvalidSharesPerMinute uint32
	GlobalMaxConnections      int64
	SoftbanDurationSeconds    int64
}

// DefaultConfig matches the original ckpool defaults (rate_limit.h).
func DefaultConfig() Config {
	return Config{
		ConnectionsPerIPPerMinute: 10,
		MaxConnectionsPerIP:       50,
		MaxSubscribesPerMinute:    3,
		MaxAuthorizesPerMinute:    5,
		MaxSharesPerMinute:        1000,
		MaxInvalidSharesPerMinute: 100,
		GlobalMaxConnections:      100000,
		SoftbanDurationSeconds:    300,
	}
}

// ActionType identifies a per-connection rate-limited action.
type ActionType int

const (
	ActionSubscribe ActionType = iota
	ActionAuthorize
	ActionSubmit
	ActionInvalidShare
)

// ConnState holds the four per-connection buckets described in spec §3.
type ConnState struct {
	subscribe    *Bucket
	authorize    *Bucket
	submit       *Bucket
	invalidShare *Bucket
}

// NewConnState constructs a fresh, fully-tokened per-connection state.
func (l *Limiter) NewConnState(now time.Time) *ConnState {
	c := l.cfg
	return &ConnState{
		subscribe:    NewBucket(c.MaxSubscribesPerMinute, c.MaxSubscribesPerMinute, now),
		authorize:    NewBucket(c.MaxAuthorizesPerMinute, c.MaxAuthorizesPerMinute, now),
		submit:       NewBucket(c.MaxSharesPerMinute, c.MaxSharesPerMinute, now),
		invalidShare: NewBucket(c.MaxInvalidSharesPerMinute, c.MaxInvalidSharesPerMinute, now),
	}
}

type ipEntry struct {
	connectBucket     *Bucket
	activeConnections atomic.Int32
	firstSeen         atomic.Int64
	lastSeen          atomic.Int64
	softbanUntil      atomic.Int64
}

// Limiter is the process-wide rate limiter: one RWMutex-guarded map of
// per-IP entries, a global connection counter, and a background reaper.
type Limiter struct {
	cfg Config
	log *logrus.Logger

	mu      sync.RWMutex
	entries map[string]*ipEntry

	globalConnections atomic.Int64
}

// New constructs a Limiter. log may be nil.
func New(cfg Config, log *logrus.Logger) *Limiter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Limiter{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*ipEntry),
	}
}

func (l *Limiter) getOrCreate(ip string, now time.Time) *ipEntry {
	l.mu.RLock()
	e, ok := l.entries[ip]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[ip]; ok {
		return e
	}
	e = &ipEntry{connectBucket: NewBucket(l.cfg.ConnectionsPerIPPerMinute, l.cfg.ConnectionsPerIPPerMinute, now)}
	e.firstSeen.Store(now.Unix())
	e.lastSeen.Store(now.Unix())
	l.entries[ip] = e
	return e
}

// Connect implements spec §4.3's connect(ip) admission sequence.
func (l *Limiter) Connect(ip string) bool {
	return l.ConnectAt(ip, time.Now())
}

// ConnectAt is Connect with an injectable clock, for deterministic tests.
func (l *Limiter) ConnectAt(ip string, now time.Time) bool {
	if l.globalConnections.Load() >= l.cfg.GlobalMaxConnections {
		return false
	}

	e := l.getOrCreate(ip, now)
	e.lastSeen.Store(now.Unix())

	if until := e.softbanUntil.Load(); until > 0 {
		if now.Unix() < until {
			return false
		}
		e.softbanUntil.CompareAndSwap(until, 0)
	}

	if l.cfg.MaxConnectionsPerIP > 0 && e.activeConnections.Load() >= l.cfg.MaxConnectionsPerIP {
		return false
	}

	if !e.connectBucket.Consume(now) {
		return false
	}

	e.activeConnections.Add(1)
	l.globalConnections.Add(1)
	return true
}

// Disconnect decrements both the per-IP and global connection counts.
// The per-IP counter is clamped at zero to guard against miscounting.
func (l *Limiter) Disconnect(ip string) {
	l.mu.RLock()
	e, ok := l.entries[ip]
	l.mu.RUnlock()
	if !ok {
		return
	}
	for {
		cur := e.activeConnections.Load()
		if cur <= 0 {
			break
		}
		if e.activeConnections.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	e.lastSeen.Store(time.Now().Unix())

	for {
		cur := l.globalConnections.Load()
		if cur <= 0 {
			break
		}
		if l.globalConnections.CompareAndSwap(cur, cur-1) {
			break
		}
	}
}

// Softban sets softban_until = now + softbanDuration for ip, creating the
// entry if it doesn't exist yet.
func (l *Limiter) Softban(ip string) {
	now := time.Now()
	e := l.getOrCreate(ip, now)
	e.softbanUntil.Store(now.Unix() + l.cfg.SoftbanDurationSeconds)
}

// IsBanned reports whether ip is currently soft-banned.
func (l *Limiter) IsBanned(ip string) bool {
	l.mu.RLock()
	e, ok := l.entries[ip]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Now().Unix() < e.softbanUntil.Load()
}

// GlobalConnections returns the current global connection count.
func (l *Limiter) GlobalConnections() int64 { return l.globalConnections.Load() }

// Check consumes the appropriate per-connection bucket for typ and
// reports whether the action is allowed.
func (l *Limiter) Check(state *ConnState, typ ActionType) bool {
	now := time.Now()
	switch typ {
	case ActionSubscribe:
		return state.subscribe.Consume(now)
	case ActionAuthorize:
		return state.authorize.Consume(now)
	case ActionSubmit:
		return state.submit.Consume(now)
	case ActionInvalidShare:
		return state.invalidShare.Consume(now)
	default:
		return false
	}
}

// Run drives the background reaper until ctx is canceled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-ticker.C:
			l.reapOnce(time.Now())
		}
	}
}

// reapOnce deletes entries with zero active connections whose last_seen
// is older than staleThreshold. Entries with active_connections > 0 are
// never removed, regardless of age.
func (l *Limiter) reapOnce(now time.Time) {
	cutoff := now.Add(-staleThreshold).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if e.activeConnections.Load() > 0 {
			continue
		}
		if e.lastSeen.Load() < cutoff {
			delete(l.entries, ip)
		}
	}
}

func (l *Limiter) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*ipEntry)
}
