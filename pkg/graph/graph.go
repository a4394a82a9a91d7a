// Package graph turns a validated event table into an indexed, directed
// multigraph with per-node feature vectors.
package graph

import "github.com/dd0wney/malaphor/pkg/events"

// Positions within a node feature vector.
const (
	FeatureTypeCode = iota
	FeatureSum1
	FeatureMean2

	FeatureWidth
)

// Edge is an event in index space.
type Edge struct {
	Source           int     `json:"source"`
	Target           int     `json:"target"`
	RelationshipType string  `json:"relationship_type"`
	Timestamp        int64   `json:"timestamp"`
	Feature1         float64 `json:"feature1"`
	Feature2         float64 `json:"feature2"`
}

// Graph is an immutable snapshot of one analysis input. It is safe for
// concurrent readers.
type Graph struct {
	index    *EntityIndex
	features [][]float64
	edges    []Edge
	events   []events.Event

	// edge positions by source and by target node
	out [][]int
	in  [][]int

	// distinct successors per node, in first-seen edge order
	succ [][]int
}

// Index returns the entity index.
func (g *Graph) Index() *EntityIndex {
	return g.index
}

// NumNodes returns the entity count.
func (g *Graph) NumNodes() int {
	return g.index.Len()
}

// NumEdges returns the event count, parallel edges included.
func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// Features returns the feature vector of node i. Callers must not modify it.
func (g *Graph) Features(i int) []float64 {
	return g.features[i]
}

// FeatureMatrix returns a copy of all feature vectors, ordered by index.
func (g *Graph) FeatureMatrix() [][]float64 {
	out := make([][]float64, len(g.features))
	for i, f := range g.features {
		out[i] = append([]float64(nil), f...)
	}
	return out
}

// Edges returns every edge in event order. Callers must not modify it.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Events returns the event rows the graph was built from.
func (g *Graph) Events() []events.Event {
	return g.events
}

// Successors returns the distinct nodes reachable from i over one edge.
// Parallel edges contribute a single successor.
func (g *Graph) Successors(i int) []int {
	return g.succ[i]
}

// OutDegree counts edges leaving i, parallel edges included.
func (g *Graph) OutDegree(i int) int {
	return len(g.out[i])
}

// InDegree counts edges entering i, parallel edges included.
func (g *Graph) InDegree(i int) int {
	return len(g.in[i])
}

// EdgesBetween returns every edge from u to v in event order.
func (g *Graph) EdgesBetween(u, v int) []Edge {
	var out []Edge
	for _, e := range g.out[u] {
		if g.edges[e].Target == v {
			out = append(out, g.edges[e])
		}
	}
	return out
}
