package source

import (
	"context"
	"errors"

	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MultiSource queries every backend and merges their answers.
// It fails only when every backend fails.
type MultiSource struct {
	sources []crawler.FollowListSource
}

// NewMultiSource combines sources in priority order
func NewMultiSource(sources ...crawler.FollowListSource) *MultiSource {
	return &MultiSource{sources: sources}
}

// FetchFollows returns the union of all successful answers, first-seen order
func (m *MultiSource) FetchFollows(ctx context.Context, identifier string) ([]string, error) {
	switch len(m.sources) {
	case 0:
		return nil, &crawler.FetchError{Identifier: identifier, Err: errors.New("no follow sources configured")}
	case 1:
		return m.sources[0].FetchFollows(ctx, identifier)
	}

	lists := make([][]string, len(m.sources))
	errs := make([]error, len(m.sources))

	var g errgroup.Group
	for i, src := range m.sources {
		g.Go(func() error {
			lists[i], errs[i] = src.FetchFollows(ctx, identifier)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	merged := make([]string, 0)
	succeeded := 0
	for i, list := range lists {
		if errs[i] != nil {
			logrus.Debugf("Follow source %d failed for %s: %v", i, identifier, errs[i])
			continue
		}
		succeeded++
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}

	if succeeded == 0 {
		return nil, &crawler.FetchError{Identifier: identifier, Err: errors.Join(errs...)}
	}
	return merged, nil
}
