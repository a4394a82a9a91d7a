package pipeline

import (
	"time"

	"github.com/dd0wney/malaphor/pkg/scoring"
)

// Node is one entity with its features and anomaly signal.
type Node struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Type         string    `json:"type"`
	AnomalyScore *float64  `json:"anomaly_score"`
	Prediction   *int      `json:"prediction"`
	Features     []float64 `json:"features"`
	NodeIndex    int       `json:"node_index"`
}

// EdgeRecord is one event in original id space.
type EdgeRecord struct {
	Source           string `json:"source"`
	Target           string `json:"target"`
	RelationshipType string `json:"relationship_type"`
}

// Stats summarises a run.
type Stats struct {
	Entities        int             `json:"entities"`
	Events          int             `json:"events"`
	TypeConflicts   int             `json:"type_conflicts"`
	StartCandidates int             `json:"start_candidates"`
	EndCandidates   int             `json:"end_candidates"`
	PairsTotal      int             `json:"pairs_total"`
	PairsSearched   int             `json:"pairs_searched"`
	Outliers        int             `json:"outliers"`
	StageMillis     map[Stage]int64 `json:"stage_ms"`
}

// Result is the serialisable outcome of one analysis. Lists keep their
// order: paths by rank, nodes by index, edges by event row.
type Result struct {
	RunID            string              `json:"run_id"`
	StartedAt        time.Time           `json:"started_at"`
	DurationMillis   int64               `json:"duration_ms"`
	PathsFound       int                 `json:"paths_found"`
	Truncated        bool                `json:"truncated"`
	TruncationReason string              `json:"truncation_reason,omitempty"`
	RiskyPaths       []scoring.RiskyPath `json:"risky_paths"`
	Nodes            []Node              `json:"nodes"`
	Edges            []EdgeRecord        `json:"edges"`
	Stats            Stats               `json:"stats"`
}

// TopAnomalies returns up to n nodes with a score, most anomalous first.
func (r *Result) TopAnomalies(n int) []Node {
	var scored []Node
	for _, node := range r.Nodes {
		if node.AnomalyScore != nil {
			scored = append(scored, node)
		}
	}
	sortNodesByScore(scored)
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// Outliers returns nodes predicted to be outliers, in index order.
func (r *Result) Outliers() []Node {
	var out []Node
	for _, node := range r.Nodes {
		if node.Prediction != nil && *node.Prediction == -1 {
			out = append(out, node)
		}
	}
	return out
}
