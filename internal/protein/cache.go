package protein

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KV is the subset of the Redis client the record cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedFetcher serves records from Redis and falls back to the wrapped
// Fetcher for misses. Only found records are cached.
type CachedFetcher struct {
	next Fetcher
	kv   KV
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedFetcher wraps next with a Redis cache whose entries live for ttl.
func NewCachedFetcher(next Fetcher, kv KV, ttl time.Duration, log zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{next: next, kv: kv, ttl: ttl, log: log}
}

func cacheKey(acc string) string {
	return "ptmscout:protein:" + acc
}

// Fetch implements Fetcher.
func (c *CachedFetcher) Fetch(ctx context.Context, accs []string) (map[string]*Record, error) {
	out := map[string]*Record{}
	var misses []string
	for _, acc := range accs {
		data, err := c.kv.Get(ctx, cacheKey(acc)).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Warn().Err(err).Str("accession", acc).Msg("record cache read failed")
			}
			misses = append(misses, acc)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			misses = append(misses, acc)
			continue
		}
		out[acc] = &rec
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.next.Fetch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for acc, rec := range fetched {
		out[acc] = rec
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := c.kv.Set(ctx, cacheKey(acc), data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("accession", acc).Msg("record cache write failed")
		}
	}
	return out, nil
}
