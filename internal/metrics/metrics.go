package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/storage"
)

// Tracker holds and manages crawl metrics for one build.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker(buildID string) *Tracker {
	return &Tracker{
		data: storage.Metrics{
			BuildID:   buildID,
			StartTime: time.Now(),
		},
	}
}

// IncrementNodesDiscovered increments the discovered nodes counter
func (t *Tracker) IncrementNodesDiscovered(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesDiscovered += n
}

// IncrementNodesExpanded increments the counter of nodes whose follow list was requested
func (t *Tracker) IncrementNodesExpanded(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesExpanded += n
}

// IncrementEdgesRecorded increments the edges counter
func (t *Tracker) IncrementEdgesRecorded(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EdgesRecorded += n
}

// RecordFetch records the outcome and duration of one follow-list fetch
func (t *Tracker) RecordFetch(duration time.Duration, ok bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.data.FetchesSucceeded++
	} else {
		t.data.FetchesFailed++
	}
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	if t == nil {
		return storage.Metrics{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}
	return snapshot
}

// Finish stamps the end time and termination reason
func (t *Tracker) Finish(reason string) storage.Metrics {
	if t == nil {
		return storage.Metrics{}
	}
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.mu.Unlock()
	return t.GetSnapshot()
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path string) error {
	if t == nil {
		return nil
	}

	jsonData, err := json.MarshalIndent(t.GetSnapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic log lines
func (t *Tracker) LogProgress() string {
	m := t.GetSnapshot()
	return fmt.Sprintf("Nodes: %d discovered, %d expanded | Edges: %d | Fetches: %d ok, %d failed",
		m.NodesDiscovered,
		m.NodesExpanded,
		m.EdgesRecorded,
		m.FetchesSucceeded,
		m.FetchesFailed,
	)
}
