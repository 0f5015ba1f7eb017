package crawler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/alvmarrod/trust-weaver/internal/config"
	"github.com/alvmarrod/trust-weaver/internal/metrics"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FollowListSource returns the accounts an account follows
type FollowListSource interface {
	FetchFollows(ctx context.Context, identifier string) ([]string, error)
}

// Result is the output of one crawl
type Result struct {
	NodesByDepth   map[int][]string
	FollowerCounts map[string]storage.FollowerCounts
	nodes          []storage.NodeRecord
}

// Nodes returns every discovered account in discovery order
func (r *Result) Nodes() []storage.NodeRecord {
	return r.nodes
}

// TotalNodes returns the number of discovered accounts
func (r *Result) TotalNodes() int {
	return len(r.nodes)
}

// Crawler performs the bounded breadth-first traversal from the seeders
type Crawler struct {
	cfg    *config.Config
	source FollowListSource
}

// NewCrawler creates a new crawler instance
func NewCrawler(cfg *config.Config, source FollowListSource) *Crawler {
	return &Crawler{
		cfg:    cfg,
		source: source,
	}
}

// fetchOutcome is the follow list of one frontier member, nil on failure
type fetchOutcome struct {
	follows []string
	ok      bool
}

// Crawl discovers every account within storage.MaxDepth hops of the seeders.
// Levels are processed strictly in sequence; members of one level are fetched concurrently.
func (c *Crawler) Crawl(ctx context.Context, seeders []string, tracker *metrics.Tracker) (*Result, error) {
	if c.cfg.BuildTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BuildTimeout())
		defer cancel()
	}

	visited := orderedmap.NewOrderedMap[string, *storage.NodeRecord]()
	frontier := NewFrontier()

	for _, raw := range seeders {
		id, err := account.Normalize(raw)
		if err != nil {
			logrus.Warnf("Skipping invalid seeder %q: %v", raw, err)
			continue
		}
		if _, ok := visited.Get(id); ok {
			continue
		}
		visited.Set(id, &storage.NodeRecord{Identifier: id, Depth: 0})
		frontier.Push(id)
	}

	if visited.Len() == 0 {
		return nil, &CrawlFailedError{Reason: "no valid seeders"}
	}
	tracker.IncrementNodesDiscovered(visited.Len())

	logrus.Infof("Starting crawl from %d seeders (workers=%d, depth cap=%d)",
		visited.Len(), c.cfg.ConcurrentWorkers, storage.MaxDepth)

	for depth := 0; depth < storage.MaxDepth; depth++ {
		members := frontier.Drain()
		if len(members) == 0 {
			break
		}

		outcomes, succeeded, err := c.fetchLevel(ctx, members, depth, tracker)
		if err != nil {
			return nil, err
		}
		if depth == 0 && succeeded == 0 {
			return nil, &CrawlFailedError{Reason: "no seeder follow list could be fetched"}
		}

		discovered, edges := 0, 0
		for i, follower := range members {
			for _, followee := range outcomes[i].follows {
				node, ok := visited.Get(followee)
				if !ok {
					node = &storage.NodeRecord{Identifier: followee, Depth: depth + 1}
					visited.Set(followee, node)
					frontier.Push(followee)
					discovered++
				}
				node.Followers.Add(depth)
				edges++
			}
			logrus.Debugf("Expanded %s (depth=%d): %d follows", account.Short(follower), depth, len(outcomes[i].follows))
		}

		tracker.IncrementNodesDiscovered(discovered)
		tracker.IncrementEdgesRecorded(edges)
		logrus.Infof("Depth %d done: %d/%d fetched, %d new nodes, %d edges",
			depth, succeeded, len(members), discovered, edges)
	}

	if c.cfg.CountLeafFollows {
		if err := c.countLeafFollows(ctx, frontier.Drain(), visited, tracker); err != nil {
			return nil, err
		}
	}

	return buildResult(visited), nil
}

// countLeafFollows tallies tier-2 follower counts for accounts already in the graph.
// No node is added.
func (c *Crawler) countLeafFollows(ctx context.Context, leaves []string,
	visited *orderedmap.OrderedMap[string, *storage.NodeRecord], tracker *metrics.Tracker) error {
	if len(leaves) == 0 {
		return nil
	}

	outcomes, succeeded, err := c.fetchLevel(ctx, leaves, storage.MaxDepth, tracker)
	if err != nil {
		return err
	}

	edges := 0
	for i := range leaves {
		for _, followee := range outcomes[i].follows {
			if node, ok := visited.Get(followee); ok {
				node.Followers.Add(storage.MaxDepth)
				edges++
			}
		}
	}

	tracker.IncrementEdgesRecorded(edges)
	logrus.Infof("Leaf follows counted: %d/%d fetched, %d edges into the graph", succeeded, len(leaves), edges)
	return nil
}

// fetchLevel fetches the follow lists of members concurrently, bounded by concurrent_workers.
// outcomes[i] belongs to members[i]. Per-account failures are logged and absorbed.
func (c *Crawler) fetchLevel(ctx context.Context, members []string, depth int, tracker *metrics.Tracker) ([]fetchOutcome, int, error) {
	outcomes := make([]fetchOutcome, len(members))

	var g errgroup.Group
	g.SetLimit(c.cfg.ConcurrentWorkers)

	for i, id := range members {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tracker.IncrementNodesExpanded(1)

			follows, err := c.fetchOne(ctx, id, tracker)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"identifier": account.Short(id),
					"depth":      depth,
				}).Warnf("Follow list unavailable: %v", err)
				return nil
			}

			outcomes[i] = fetchOutcome{
				follows: FilterFollows(id, follows, c.cfg.MaxFollowsPerAccount),
				ok:      true,
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, &CrawlFailedError{Reason: "build deadline exceeded", Err: err}
		}
		return nil, 0, &CrawlFailedError{Reason: "crawl cancelled", Err: err}
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.ok {
			succeeded++
		}
	}
	return outcomes, succeeded, nil
}

// fetchOne calls the source with an independent per-call timeout
func (c *Crawler) fetchOne(ctx context.Context, identifier string, tracker *metrics.Tracker) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	follows, err := c.source.FetchFollows(callCtx, identifier)
	tracker.RecordFetch(time.Since(start), err == nil)

	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &FetchError{Identifier: identifier, Err: err}
	}
	return follows, nil
}

func buildResult(visited *orderedmap.OrderedMap[string, *storage.NodeRecord]) *Result {
	result := &Result{
		NodesByDepth:   make(map[int][]string),
		FollowerCounts: make(map[string]storage.FollowerCounts, visited.Len()),
		nodes:          make([]storage.NodeRecord, 0, visited.Len()),
	}

	for el := visited.Front(); el != nil; el = el.Next() {
		node := *el.Value
		result.nodes = append(result.nodes, node)
		result.NodesByDepth[node.Depth] = append(result.NodesByDepth[node.Depth], node.Identifier)
		result.FollowerCounts[node.Identifier] = node.Followers
	}

	for depth := range result.NodesByDepth {
		sort.Strings(result.NodesByDepth[depth])
	}

	return result
}
