package cache

import (
	"context"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
)

const (
	MaxUserSigLen      = 20
	sigRefreshInterval = 60 * time.Second
	sigKeyPrefix       = "user_coinbase:"
)

const sigAllowedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-.:!#/ "

// ValidateSig reports whether sig is a legal coinbase signature: 1-20
// characters, all drawn from the allowed charset.
func ValidateSig(sig string) bool {
	if len(sig) < 1 || len(sig) > MaxUserSigLen {
		return false
	}
	for i := 0; i < len(sig); i++ {
		if strings.IndexByte(sigAllowedChars, sig[i]) < 0 {
			return false
		}
	}
	return true
}

// SignatureCache maps a Bitcoin address to its operator-chosen coinbase
// signature, refreshed from Redis every 60 seconds. It is read-only from
// the stratifier's perspective; signatures are written to Redis out of
// band by the pool's admin tooling.
type SignatureCache struct {
	r *refreshable
}

// NewSignatureCache constructs a SignatureCache backed by pool. log may
// be nil.
func NewSignatureCache(pool *redis.Pool, log *logrus.Logger) *SignatureCache {
	build := func() (map[string]string, error) {
		raw, err := scanPrefix(pool, sigKeyPrefix)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(raw))
		for addr, sig := range raw {
			if ValidateSig(sig) {
				out[addr] = sig
			}
		}
		return out, nil
	}
	return &SignatureCache{r: newRefreshable("signature", sigRefreshInterval, log, build)}
}

// Get returns the cached coinbase signature for a Bitcoin address.
func (c *SignatureCache) Get(btcAddress string) (string, bool) {
	return c.r.get(btcAddress)
}

// Run drives the periodic refresh until ctx is canceled.
func (c *SignatureCache) Run(ctx context.Context) { c.r.run(ctx) }
