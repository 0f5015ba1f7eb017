// Package trust converts an account's follower composition in the active
// graph snapshot into a trust score for downstream spam filtering.
package trust

import (
	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/alvmarrod/trust-weaver/internal/storage"
)

// Score constants. Changing them changes every score served downstream.
const (
	SeederScore  = 1.0
	UnknownScore = 0.02

	WeightD0 = 0.15
	WeightD1 = 0.02
	WeightD2 = 0.005
)

// GraphReader is the read side of the active snapshot
type GraphReader interface {
	GetDepth(identifier string) (int, bool)
	GetFollowerCounts(identifier string) storage.FollowerCounts
}

// Breakdown explains how a score was derived
type Breakdown struct {
	Identifier string                 `json:"identifier"`
	Score      float64                `json:"score"`
	Known      bool                   `json:"known"`
	Depth      *int                   `json:"depth,omitempty"`
	Followers  storage.FollowerCounts `json:"followers"`
	Floor      bool                   `json:"floor"`
}

// Engine scores accounts against whatever snapshot the reader currently serves
type Engine struct {
	graph GraphReader
}

// NewEngine creates a score engine
func NewEngine(graph GraphReader) *Engine {
	return &Engine{graph: graph}
}

// Score returns the trust score of an account. Malformed identifiers are unknown.
func (e *Engine) Score(identifier string) float64 {
	return e.Explain(identifier).Score
}

// Explain returns the score together with the data it was computed from
func (e *Engine) Explain(identifier string) Breakdown {
	id, err := account.Normalize(identifier)
	if err != nil {
		return Breakdown{Identifier: identifier, Score: UnknownScore, Floor: true}
	}

	b := Breakdown{Identifier: id}
	if depth, ok := e.graph.GetDepth(id); ok {
		b.Known = true
		b.Depth = &depth
		if depth == 0 {
			b.Followers = e.graph.GetFollowerCounts(id)
			b.Score = SeederScore
			return b
		}
	}

	b.Followers = e.graph.GetFollowerCounts(id)
	b.Score = FromCounts(b.Followers)
	if b.Score == 0 {
		b.Score = UnknownScore
		b.Floor = true
	}
	return b
}

// FromCounts applies the tier weights without the seeder or floor rules
func FromCounts(fc storage.FollowerCounts) float64 {
	return float64(fc.D0)*WeightD0 + float64(fc.D1)*WeightD1 + float64(fc.D2)*WeightD2
}
