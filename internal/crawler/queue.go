package crawler

import "sort"

// Frontier holds the accounts of one BFS level with deduplication.
// It is filled and drained by the merging goroutine only.
type Frontier struct {
	items []string
	seen  map[string]struct{}
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	return &Frontier{
		items: make([]string, 0),
		seen:  make(map[string]struct{}),
	}
}

// Push adds an identifier if not already present.
// Returns true if added, false if duplicate
func (f *Frontier) Push(identifier string) bool {
	if _, ok := f.seen[identifier]; ok {
		return false
	}
	f.seen[identifier] = struct{}{}
	f.items = append(f.items, identifier)
	return true
}

// Len returns the number of pending identifiers
func (f *Frontier) Len() int {
	return len(f.items)
}

// Drain empties the frontier and returns its members sorted, so fetch results
// merge in the same order on every run
func (f *Frontier) Drain() []string {
	items := f.items
	sort.Strings(items)
	f.items = make([]string, 0)
	f.seen = make(map[string]struct{})
	return items
}
