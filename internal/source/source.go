// Package source provides the follow-list backends the crawler reads from:
// remote HTTP endpoints, their union, and an optional Redis cache in front.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvmarrod/trust-weaver/internal/circuitbreaker"
	"github.com/alvmarrod/trust-weaver/internal/config"
	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/retry"
	"github.com/sirupsen/logrus"
)

// ErrNoSources is returned by New when no follow endpoint is configured
var ErrNoSources = errors.New("no follow sources configured")

// Closer releases resources held by a built source chain
type Closer func() error

// New builds the follow-list source described by cfg
func New(ctx context.Context, cfg *config.Config) (crawler.FollowListSource, Closer, error) {
	if len(cfg.FollowSources) == 0 {
		return nil, nil, ErrNoSources
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryAttempts
	retryCfg.InitialDelay = cfg.RetryDelay()

	backends := make([]crawler.FollowListSource, 0, len(cfg.FollowSources))
	for _, baseURL := range cfg.FollowSources {
		breakerCfg := circuitbreaker.DefaultConfig("")
		breakerCfg.MaxFailures = cfg.BreakerMaxFailures
		breakerCfg.Cooldown = cfg.BreakerCooldown()

		src, err := NewHTTPSource(baseURL, HTTPOptions{
			RequestTimeout: cfg.RequestTimeout(),
			RPS:            cfg.SourceRPS,
			Retry:          retryCfg,
			Breaker:        breakerCfg,
		})
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, src)
		logrus.Infof("Follow source registered: %s", src.Name())
	}

	var chain crawler.FollowListSource = NewMultiSource(backends...)
	closer := Closer(func() error { return nil })

	if cfg.RedisAddr != "" {
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("follow cache: %w", err)
		}
		chain = NewCachedSource(chain, client, cfg.FollowCacheTTL())
		closer = func() error { return client.Close() }
		logrus.Infof("Follow cache enabled at %s (ttl %s)", cfg.RedisAddr, cfg.FollowCacheTTL())
	}

	return chain, closer, nil
}

var (
	_ crawler.FollowListSource = (*HTTPSource)(nil)
	_ crawler.FollowListSource = (*MultiSource)(nil)
	_ crawler.FollowListSource = (*CachedSource)(nil)
)
