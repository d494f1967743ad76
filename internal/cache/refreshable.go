package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// refreshable is a read-mostly string->string map refreshed wholesale on
// an interval: a new map is built outside any lock, then swapped in
// under a brief write lock, and the old map is dropped outside the lock.
type refreshable struct {
	mu   sync.RWMutex
	data map[string]string

	log      *logrus.Logger
	interval time.Duration
	build    func() (map[string]string, error)
	name     string
}

func newRefreshable(name string, interval time.Duration, log *logrus.Logger, build func() (map[string]string, error)) *refreshable {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &refreshable{
		data:     make(map[string]string),
		log:      log,
		interval: interval,
		build:    build,
		name:     name,
	}
}

func (r *refreshable) get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok
}

func (r *refreshable) refreshOnce() {
	next, err := r.build()
	if err != nil {
		r.log.WithError(err).WithField("cache", r.name).Warn("cache refresh failed, keeping previous contents")
		return
	}
	r.mu.Lock()
	r.data = next
	r.mu.Unlock()
}

// run refreshes once immediately, before the first tick, then again every
// interval; it blocks until ctx is canceled.
func (r *refreshable) run(ctx context.Context) {
	r.refreshOnce()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce()
		}
	}
}
