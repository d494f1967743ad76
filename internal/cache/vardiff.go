package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
)

const (
	vardiffPersistInterval = 30 * time.Second
	vardiffKeyPrefix       = "vardiff:"
	vardiffDefaultTTL      = 24 * time.Hour
)

type vardiffEntry struct {
	diff     int64
	lastSeen time.Time
}

// VarDiffCache provides cross-restart memory of each worker's last
// negotiated difficulty: writes land in an in-memory map immediately and
// are mirrored to Redis with a TTL on a background interval, so a fresh
// process can resume worker difficulties after a restart.
type VarDiffCache struct {
	pool *redis.Pool
	log  *logrus.Logger
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]vardiffEntry
}

// NewVarDiffCache constructs a VarDiffCache backed by pool. log may be
// nil; ttl defaults to 24h if zero or negative.
func NewVarDiffCache(pool *redis.Pool, ttl time.Duration, log *logrus.Logger) *VarDiffCache {
	if ttl <= 0 {
		ttl = vardiffDefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VarDiffCache{
		pool:    pool,
		log:     log,
		ttl:     ttl,
		entries: make(map[string]vardiffEntry),
	}
}

// Get returns the remembered difficulty for worker, if any.
func (c *VarDiffCache) Get(worker string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[worker]
	if !ok {
		return 0, false
	}
	return e.diff, true
}

// Save records worker's current difficulty immediately in memory; it is
// mirrored to Redis on the next persist cycle. diff <= 0 is ignored.
func (c *VarDiffCache) Save(worker string, diff int64) {
	if worker == "" || diff <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[worker] = vardiffEntry{diff: diff, lastSeen: time.Now()}
	c.mu.Unlock()
}

// Run loads prior state from Redis, then periodically persists live
// entries and evicts stale ones until ctx is canceled, performing one
// final persist on the way out.
func (c *VarDiffCache) Run(ctx context.Context) {
	c.loadFromRedis()

	ticker := time.NewTicker(vardiffPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.persistToRedis()
			return
		case <-ticker.C:
			c.evictStale()
			c.persistToRedis()
		}
	}
}

func (c *VarDiffCache) loadFromRedis() {
	raw, err := scanPrefix(c.pool, vardiffKeyPrefix)
	if err != nil {
		c.log.WithError(err).Warn("vardiff cache: initial load from redis failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for worker, val := range raw {
		diff, err := strconv.ParseInt(val, 10, 64)
		if err != nil || diff <= 0 {
			continue
		}
		c.entries[worker] = vardiffEntry{diff: diff, lastSeen: now}
	}
}

func (c *VarDiffCache) persistToRedis() {
	c.mu.RLock()
	snapshot := make(map[string]vardiffEntry, len(c.entries))
	for worker, e := range c.entries {
		snapshot[worker] = e
	}
	c.mu.RUnlock()

	now := time.Now()
	for worker, e := range snapshot {
		if now.Sub(e.lastSeen) >= c.ttl {
			continue
		}
		key := vardiffKeyPrefix + worker
		if err := setex(c.pool, key, strconv.FormatInt(e.diff, 10), int(c.ttl.Seconds())); err != nil {
			c.log.WithError(err).WithField("worker", worker).Warn("vardiff cache: persist failed")
		}
	}
}

func (c *VarDiffCache) evictStale() {
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for worker, e := range c.entries {
		if e.lastSeen.Before(cutoff) {
			delete(c.entries, worker)
		}
	}
}
