package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Stats summarizes a snapshot
type Stats struct {
	TotalNodes   int         `json:"totalNodes"`
	NodesByDepth map[int]int `json:"nodesByDepth"`
}

// Snapshot is the node set of one completed build. It is never modified after NewSnapshot.
type Snapshot struct {
	buildID string
	nodes   map[string]storage.NodeRecord
	records []storage.NodeRecord
	stats   Stats
}

// NewSnapshot indexes the nodes of a build
func NewSnapshot(buildID string, nodes []storage.NodeRecord) (*Snapshot, error) {
	s := &Snapshot{
		buildID: buildID,
		nodes:   make(map[string]storage.NodeRecord, len(nodes)),
		records: make([]storage.NodeRecord, 0, len(nodes)),
		stats: Stats{
			NodesByDepth: make(map[int]int),
		},
	}

	for _, node := range nodes {
		if node.Depth < 0 || node.Depth > storage.MaxDepth {
			return nil, fmt.Errorf("node %s has depth %d outside 0..%d", node.Identifier, node.Depth, storage.MaxDepth)
		}
		if _, dup := s.nodes[node.Identifier]; dup {
			return nil, fmt.Errorf("node %s appears twice in build %s", node.Identifier, buildID)
		}
		s.nodes[node.Identifier] = node
		s.records = append(s.records, node)
		s.stats.NodesByDepth[node.Depth]++
	}
	s.stats.TotalNodes = len(s.records)

	return s, nil
}

// BuildID returns the build that produced the snapshot
func (s *Snapshot) BuildID() string {
	return s.buildID
}

// Records returns the nodes in their original order
func (s *Snapshot) Records() []storage.NodeRecord {
	return s.records
}

// Lookup returns the node for an already-normalized identifier
func (s *Snapshot) Lookup(identifier string) (storage.NodeRecord, bool) {
	node, ok := s.nodes[identifier]
	return node, ok
}

// Stats returns a copy of the snapshot statistics
func (s *Snapshot) Stats() Stats {
	byDepth := make(map[int]int, len(s.stats.NodesByDepth))
	for d, n := range s.stats.NodesByDepth {
		byDepth[d] = n
	}
	return Stats{TotalNodes: s.stats.TotalNodes, NodesByDepth: byDepth}
}

var emptySnapshot = &Snapshot{
	nodes:   map[string]storage.NodeRecord{},
	records: []storage.NodeRecord{},
	stats:   Stats{NodesByDepth: map[int]int{}},
}

// SnapshotPersister durably stores the active snapshot
type SnapshotPersister interface {
	ReplaceSnapshot(ctx context.Context, build *storage.GraphBuild, nodes []storage.NodeRecord) error
	LoadActiveSnapshot(ctx context.Context) (string, []storage.NodeRecord, error)
}

// Store serves the active snapshot. Readers never lock; Commit swaps the
// pointer only after the persister accepted the whole node set.
type Store struct {
	persister SnapshotPersister
	active    atomic.Pointer[Snapshot]
}

// NewStore creates a store with an empty active snapshot
func NewStore(persister SnapshotPersister) *Store {
	s := &Store{persister: persister}
	s.active.Store(emptySnapshot)
	return s
}

// Commit persists a snapshot together with the COMPLETED record of the build
// that produced it, then activates it. On error the previous snapshot stays active.
func (s *Store) Commit(ctx context.Context, snapshot *Snapshot, build *storage.GraphBuild) error {
	if snapshot == nil {
		return fmt.Errorf("cannot commit nil snapshot")
	}
	if build != nil && build.ID != snapshot.buildID {
		return fmt.Errorf("snapshot %s committed with record of build %s", snapshot.buildID, build.ID)
	}

	if s.persister != nil {
		if err := s.persister.ReplaceSnapshot(ctx, build, snapshot.records); err != nil {
			return fmt.Errorf("failed to persist snapshot %s: %w", snapshot.buildID, err)
		}
	}

	s.active.Store(snapshot)
	logrus.Infof("Activated snapshot %s (%d nodes)", snapshot.buildID, snapshot.stats.TotalNodes)
	return nil
}

// Active returns the currently served snapshot, never nil
func (s *Store) Active() *Snapshot {
	return s.active.Load()
}

// GetDepth returns the depth of an account in the active snapshot
func (s *Store) GetDepth(identifier string) (int, bool) {
	id, err := account.Normalize(identifier)
	if err != nil {
		return 0, false
	}
	node, ok := s.Active().Lookup(id)
	if !ok {
		return 0, false
	}
	return node.Depth, true
}

// GetFollowerCounts returns the follower-count vector of an account, zeros if absent
func (s *Store) GetFollowerCounts(identifier string) storage.FollowerCounts {
	id, err := account.Normalize(identifier)
	if err != nil {
		return storage.FollowerCounts{}
	}
	node, _ := s.Active().Lookup(id)
	return node.Followers
}

// Stats returns statistics of the active snapshot
func (s *Store) Stats() Stats {
	return s.Active().Stats()
}

// LoadFromStorage activates the persisted snapshot, if any, without re-crawling
func (s *Store) LoadFromStorage(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	startTime := time.Now()
	logrus.Info("Loading active snapshot from database into memory...")

	buildID, nodes, err := s.persister.LoadActiveSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if buildID == "" {
		logrus.Info("No committed snapshot found, serving empty graph")
		return nil
	}

	snapshot, err := NewSnapshot(buildID, nodes)
	if err != nil {
		return fmt.Errorf("stored snapshot %s is invalid: %w", buildID, err)
	}

	s.active.Store(snapshot)
	logrus.Infof("Loaded snapshot %s: %d nodes in %v", buildID, len(nodes), time.Since(startTime))
	return nil
}
