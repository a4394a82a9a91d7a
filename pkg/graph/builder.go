package graph

import (
	"fmt"
	"math"

	"github.com/dd0wney/malaphor/pkg/events"
)

// Build validates evs and constructs the graph. A malformed or empty table is
// rejected with the error from events.Validate; no partial graph is returned.
func Build(evs []events.Event) (*Graph, error) {
	if err := events.Validate(evs); err != nil {
		return nil, err
	}

	idx := NewEntityIndex(evs)
	n := idx.Len()

	g := &Graph{
		index:  idx,
		edges:  make([]Edge, len(evs)),
		events: evs,
		out:    make([][]int, n),
		in:     make([][]int, n),
		succ:   make([][]int, n),
	}

	for i := range evs {
		src, ok := idx.IndexOf(evs[i].SourceID)
		if !ok {
			return nil, fmt.Errorf("build graph: source %q missing from index", evs[i].SourceID)
		}
		dst, ok := idx.IndexOf(evs[i].TargetID)
		if !ok {
			return nil, fmt.Errorf("build graph: target %q missing from index", evs[i].TargetID)
		}

		g.edges[i] = Edge{
			Source:           src,
			Target:           dst,
			RelationshipType: evs[i].RelationshipType,
			Timestamp:        evs[i].Timestamp,
			Feature1:         evs[i].Feature1,
			Feature2:         evs[i].Feature2,
		}
		g.out[src] = append(g.out[src], i)
		g.in[dst] = append(g.in[dst], i)
	}

	g.succ = successorLists(g)
	features, err := aggregateFeatures(g)
	if err != nil {
		return nil, err
	}
	g.features = features
	return g, nil
}

func successorLists(g *Graph) [][]int {
	succ := make([][]int, g.NumNodes())
	seen := make(map[int]struct{})
	for u, edgeIDs := range g.out {
		clear(seen)
		for _, e := range edgeIDs {
			v := g.edges[e].Target
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			succ[u] = append(succ[u], v)
		}
	}
	return succ
}

// aggregateFeatures computes [type_code, sum feature1, mean feature2] over
// each node's incident edges in one pass over the adjacency lists. A self-loop
// is incident twice, once leaving and once entering. A node with no incident
// edges has a feature2 mean of 0. Finite rows whose sums overflow are
// rejected with a *events.ValidationError naming the row that overflowed.
func aggregateFeatures(g *Graph) ([][]float64, error) {
	features := make([][]float64, g.NumNodes())
	for i := range features {
		code, _ := g.index.TypeCode(g.index.TypeOf(i))

		var sum1, sum2 float64
		for _, incident := range [][]int{g.out[i], g.in[i]} {
			for _, e := range incident {
				sum1 += g.edges[e].Feature1
				sum2 += g.edges[e].Feature2
				if err := checkAggregate(g, i, e, sum1, sum2); err != nil {
					return nil, err
				}
			}
		}

		var mean2 float64
		if incident := len(g.out[i]) + len(g.in[i]); incident > 0 {
			mean2 = sum2 / float64(incident)
		}

		f := make([]float64, FeatureWidth)
		f[FeatureTypeCode] = float64(code)
		f[FeatureSum1] = sum1
		f[FeatureMean2] = mean2
		features[i] = f
	}
	return features, nil
}

func checkAggregate(g *Graph, node, edge int, sum1, sum2 float64) error {
	field := ""
	switch {
	case math.IsInf(sum1, 0) || math.IsNaN(sum1):
		field = "feature1"
	case math.IsInf(sum2, 0) || math.IsNaN(sum2):
		field = "feature2"
	default:
		return nil
	}
	return &events.ValidationError{
		Row:    edge + 1,
		Field:  field,
		Reason: fmt.Sprintf("aggregate for entity %q overflows", g.index.IDOf(node)),
	}
}
