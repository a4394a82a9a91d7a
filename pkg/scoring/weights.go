package scoring

import "github.com/dd0wney/malaphor/pkg/graph"

// EdgeWeigher adds a per-hop term to a path score. It is not used unless a
// scorer is built WithEdgeWeigher.
type EdgeWeigher interface {
	HopWeight(from, to int) float64
}

// RelationshipWeights weighs a hop by relationship type. When several
// parallel edges join the two nodes the lowest (riskiest) weight applies.
// Relationship types missing from Weights weigh 0.
type RelationshipWeights struct {
	Graph   *graph.Graph
	Weights map[string]float64
}

func (w RelationshipWeights) HopWeight(from, to int) float64 {
	edges := w.Graph.EdgesBetween(from, to)
	if len(edges) == 0 {
		return 0
	}
	best := w.Weights[edges[0].RelationshipType]
	for _, e := range edges[1:] {
		best = min(best, w.Weights[e.RelationshipType])
	}
	return best
}
