// Package cache implements the Redis-backed refreshable caches described
// in spec §4.5: hot paths read an in-memory map guarded by an RWMutex; a
// background goroutine builds a fresh map from Redis and swaps it in
// under the write lock, so readers never block on Redis I/O.
package cache

import (
	"github.com/gomodule/redigo/redis"
)

// NewPool builds a redigo connection pool against a redis://host:port/db
// URL. A nil or empty url yields a pool whose Dial always fails, so
// callers that construct a cache without Redis configured degrade to an
// empty cache rather than panicking.
//
// MaxIdle is 0 on purpose: spec §4.5 calls for a fresh connection opened
// and closed on every refresh cycle, not a retained pool, so a pool
// Get/Close pair here always dials anew and actually closes the
// connection rather than parking it on an idle list.
func NewPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle: 0,
		Dial: func() (redis.Conn, error) {
			if url == "" {
				return nil, redis.ErrNil
			}
			return redis.DialURL(url)
		},
	}
}

// scanPrefix walks the keyspace for keys matching prefix+"*" via SCAN and
// returns their string values, skipping keys whose value fails to decode
// as a string (binary values, connection hiccups mid-scan).
func scanPrefix(pool *redis.Pool, prefix string) (map[string]string, error) {
	conn := pool.Get()
	defer conn.Close()

	out := make(map[string]string)
	cursor := "0"
	for {
		reply, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", prefix+"*", "COUNT", 100))
		if err != nil {
			return nil, err
		}
		cursor, err = redis.String(reply[0], nil)
		if err != nil {
			return nil, err
		}
		keys, err := redis.Strings(reply[1], nil)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			val, err := redis.String(conn.Do("GET", key))
			if err != nil {
				continue
			}
			out[key[len(prefix):]] = val
		}

		if cursor == "0" {
			break
		}
	}
	return out, nil
}

func setex(pool *redis.Pool, key, value string, ttlSeconds int) error {
	conn := pool.Get()
	defer conn.Close()
	_, err := conn.Do("SETEX", key, ttlSeconds, value)
	return err
}
