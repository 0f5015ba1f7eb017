package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Counts(t *testing.T) {
	tracker := NewTracker("b1")

	tracker.IncrementNodesDiscovered(3)
	tracker.IncrementNodesExpanded(2)
	tracker.IncrementEdgesRecorded(5)
	tracker.RecordFetch(100*time.Millisecond, true)
	tracker.RecordFetch(300*time.Millisecond, false)

	m := tracker.GetSnapshot()
	assert.Equal(t, "b1", m.BuildID)
	assert.Equal(t, 3, m.NodesDiscovered)
	assert.Equal(t, 2, m.NodesExpanded)
	assert.Equal(t, 5, m.EdgesRecorded)
	assert.Equal(t, 1, m.FetchesSucceeded)
	assert.Equal(t, 1, m.FetchesFailed)
	assert.EqualValues(t, 400, m.TotalFetchTimeMs)
	assert.EqualValues(t, 200, m.AvgFetchTimeMs)

	assert.Equal(t, "Nodes: 3 discovered, 2 expanded | Edges: 5 | Fetches: 1 ok, 1 failed", tracker.LogProgress())
}

func TestTracker_NilIsNoop(t *testing.T) {
	var tracker *Tracker

	tracker.IncrementNodesDiscovered(1)
	tracker.RecordFetch(time.Second, true)
	assert.Equal(t, storage.Metrics{}, tracker.Finish("completed"))
	assert.NoError(t, tracker.WriteToFile(filepath.Join(t.TempDir(), "unused.json")))
}

func TestTracker_WriteToFile(t *testing.T) {
	tracker := NewTracker("b2")
	tracker.IncrementNodesDiscovered(7)
	tracker.Finish("completed")

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tracker.WriteToFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got storage.Metrics
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "b2", got.BuildID)
	assert.Equal(t, 7, got.NodesDiscovered)
	assert.Equal(t, "completed", got.TerminationReason)
	assert.False(t, got.EndTime.IsZero())
}
