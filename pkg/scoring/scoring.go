// Package scoring scores candidate paths from per-node anomaly signals and
// ranks them, lowest (riskiest) first.
package scoring

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dd0wney/malaphor/pkg/anomaly"
	"github.com/dd0wney/malaphor/pkg/graph"
	"github.com/dd0wney/malaphor/pkg/paths"
)

// DefaultTopN is the number of paths a Ranker keeps when TopN is 0.
const DefaultTopN = 10

var (
	// ErrEmptyPath is returned when asked to score a path with no nodes.
	ErrEmptyPath = errors.New("cannot score an empty path")

	// ErrInvalidTopN is returned for a negative TopN.
	ErrInvalidTopN = errors.New("top-n must be non-negative")
)

// RiskyPath is a scored path rendered for reporting.
type RiskyPath struct {
	Score         float64  `json:"score"`
	PathIDs       []string `json:"path_ids"`
	PathIndices   []int    `json:"path_indices"`
	PathWithTypes string   `json:"path_with_types"`
}

// Scorer sums node anomaly scores along a path.
type Scorer struct {
	table   *anomaly.Table
	weigher EdgeWeigher
}

// NewScorer returns a node-sum scorer over table.
func NewScorer(table *anomaly.Table) *Scorer {
	return &Scorer{table: table}
}

// WithEdgeWeigher returns a copy of the scorer that also adds per-hop edge
// weights. Node-sum scoring is unchanged when w is nil.
func (s *Scorer) WithEdgeWeigher(w EdgeWeigher) *Scorer {
	cp := *s
	cp.weigher = w
	return &cp
}

// Score returns the sum of anomaly scores over the distinct nodes of p.
// Nodes without a record contribute 0.
func (s *Scorer) Score(p paths.Path) (float64, error) {
	if len(p) == 0 {
		return 0, ErrEmptyPath
	}

	var total float64
	seen := make(map[int]struct{}, len(p))
	for _, n := range p {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		total += s.table.Score(n)
	}

	if s.weigher != nil {
		for i := 1; i < len(p); i++ {
			total += s.weigher.HopWeight(p[i-1], p[i])
		}
	}
	return total, nil
}

// Ranker orders scored paths and keeps the riskiest.
type Ranker struct {
	TopN int
}

type scored struct {
	score float64
	path  paths.Path
}

// Rank scores every path, sorts ascending by score with ties kept in input
// order, keeps the first TopN, and renders them against g.
func (r Ranker) Rank(g *graph.Graph, scorer *Scorer, ps []paths.Path) ([]RiskyPath, error) {
	topN := r.TopN
	if topN < 0 {
		return nil, ErrInvalidTopN
	}
	if topN == 0 {
		topN = DefaultTopN
	}

	all := make([]scored, len(ps))
	for i, p := range ps {
		s, err := scorer.Score(p)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		all[i] = scored{score: s, path: p}
	}

	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		default:
			return 0
		}
	})

	if len(all) > topN {
		all = all[:topN]
	}
	out := make([]RiskyPath, len(all))
	for i, s := range all {
		out[i] = Render(g, s.path, s.score)
	}
	return out, nil
}

// Render converts a path in index space into ids and an "id (type) -> ..."
// display string.
func Render(g *graph.Graph, p paths.Path, score float64) RiskyPath {
	idx := g.Index()
	rp := RiskyPath{
		Score:       score,
		PathIDs:     make([]string, len(p)),
		PathIndices: slices.Clone([]int(p)),
	}
	parts := make([]string, len(p))
	for i, n := range p {
		e := idx.Entity(n)
		rp.PathIDs[i] = e.ID
		parts[i] = fmt.Sprintf("%s (%s)", e.ID, e.Type)
	}
	rp.PathWithTypes = strings.Join(parts, " -> ")
	return rp
}
