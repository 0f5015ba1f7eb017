package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const cacheKeyPrefix = "weaver:follows:"

// CachedSource always fetches follow lists from next and keeps the last
// successful answer per account in Redis for a TTL. The stored list is served
// only when next fails, so every build sees fresh data while sources are up.
// Cache failures degrade to a pass-through; fetch errors are never cached.
type CachedSource struct {
	next   crawler.FollowListSource
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewCachedSource wraps next with a Redis cache
func NewCachedSource(next crawler.FollowListSource, client *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl}
}

// FetchFollows fetches from next and refreshes the cache. When next fails the
// last cached list is returned instead, if one has not expired.
func (c *CachedSource) FetchFollows(ctx context.Context, identifier string) ([]string, error) {
	key := cacheKeyPrefix + identifier

	follows, fetchErr := c.next.FetchFollows(ctx, identifier)
	if fetchErr == nil {
		c.store(ctx, key, follows)
		return follows, nil
	}

	if ctx.Err() != nil {
		return nil, fetchErr
	}

	cached, ok := c.load(ctx, key)
	if !ok {
		return nil, fetchErr
	}

	logrus.WithField("account", identifier).Warnf("Serving cached follow list after fetch failure: %v", fetchErr)
	return cached, nil
}

func (c *CachedSource) load(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.Debugf("Follow cache read failed: %v", err)
		}
		return nil, false
	}

	var follows []string
	if err := json.Unmarshal(raw, &follows); err != nil {
		logrus.Warnf("Discarding corrupt cache entry %s", key)
		return nil, false
	}
	return follows, true
}

func (c *CachedSource) store(ctx context.Context, key string, follows []string) {
	payload, err := json.Marshal(follows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		logrus.Debugf("Follow cache write failed: %v", err)
	}
}
