package storage

import "time"

// BuildStatus is the lifecycle state of a graph build
type BuildStatus string

const (
	BuildRunning   BuildStatus = "RUNNING"
	BuildCompleted BuildStatus = "COMPLETED"
	BuildFailed    BuildStatus = "FAILED"
)

// MaxDepth is the deepest tier a node can be assigned (0 = seeder)
const MaxDepth = 2

// Seeder is a curated account anchoring the trust graph
type Seeder struct {
	Identifier string    `json:"identifier"`
	Region     string    `json:"region"`
	Label      string    `json:"label,omitempty"`
	AddedBy    string    `json:"addedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FollowerCounts counts the distinct depth-0/1/2 accounts following a node
type FollowerCounts struct {
	D0 int `json:"d0"`
	D1 int `json:"d1"`
	D2 int `json:"d2"`
}

// Add increments the tier matching the follower's depth
func (fc *FollowerCounts) Add(followerDepth int) {
	switch followerDepth {
	case 0:
		fc.D0++
	case 1:
		fc.D1++
	case 2:
		fc.D2++
	}
}

// IsZero reports whether no known account follows the node
func (fc FollowerCounts) IsZero() bool {
	return fc.D0 == 0 && fc.D1 == 0 && fc.D2 == 0
}

// NodeRecord is one account of a graph snapshot
type NodeRecord struct {
	Identifier string         `json:"identifier"`
	Depth      int            `json:"depth"`
	Followers  FollowerCounts `json:"followers"`
}

// GraphBuild is one crawl execution record
type GraphBuild struct {
	ID           string      `json:"id"`
	Status       BuildStatus `json:"status"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt"`
	SeedersCount int         `json:"seedersCount"`
	NodesCount   *int        `json:"nodesCount"`
	ErrorMessage *string     `json:"errorMessage"`
}

// IsTerminal reports whether the build reached COMPLETED or FAILED
func (b GraphBuild) IsTerminal() bool {
	return b.Status == BuildCompleted || b.Status == BuildFailed
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	BuildID           string    `json:"build_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	NodesDiscovered   int       `json:"nodes_discovered"`
	NodesExpanded     int       `json:"nodes_expanded"`
	EdgesRecorded     int       `json:"edges_recorded"`
	FetchesSucceeded  int       `json:"fetches_succeeded"`
	FetchesFailed     int       `json:"fetches_failed"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}
