// Package anomaly defines per-node anomaly records and the provider contract
// that produces them, plus an isolation forest provider.
package anomaly

import (
	"context"
	"errors"
	"fmt"
)

// Prediction values.
const (
	Outlier = -1
	Inlier  = 1
)

var (
	// ErrDuplicateRecord is returned when a node index has two records.
	ErrDuplicateRecord = errors.New("duplicate anomaly record")

	// ErrRecordOutOfRange is returned for a record whose node is not in the graph.
	ErrRecordOutOfRange = errors.New("anomaly record node index out of range")

	// ErrInvalidPrediction is returned for predictions other than -1 and 1.
	ErrInvalidPrediction = errors.New("anomaly prediction must be -1 or 1")

	// ErrNoSamples is returned when a detector is given an empty matrix.
	ErrNoSamples = errors.New("no samples to score")
)

// Record is the anomaly signal for one node. Lower scores are more anomalous.
type Record struct {
	NodeIndex  int     `json:"node_index"`
	Score      float64 `json:"anomaly_score"`
	Prediction int     `json:"prediction"`
}

// Provider scores embedding vectors. It returns at most one record per row of
// embeddings, with NodeIndex equal to the row.
type Provider interface {
	Detect(ctx context.Context, embeddings [][]float64) ([]Record, error)
}

// Table indexes records by node. A node without a record has no signal.
type Table struct {
	records []Record
	present []bool
	count   int
}

// NewTable indexes records for a graph of n nodes.
func NewTable(n int, records []Record) (*Table, error) {
	t := &Table{
		records: make([]Record, n),
		present: make([]bool, n),
	}
	for _, r := range records {
		if r.NodeIndex < 0 || r.NodeIndex >= n {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrRecordOutOfRange, r.NodeIndex, n)
		}
		if t.present[r.NodeIndex] {
			return nil, fmt.Errorf("%w: node %d", ErrDuplicateRecord, r.NodeIndex)
		}
		if r.Prediction != Outlier && r.Prediction != Inlier {
			return nil, fmt.Errorf("%w: node %d has %d", ErrInvalidPrediction, r.NodeIndex, r.Prediction)
		}
		t.records[r.NodeIndex] = r
		t.present[r.NodeIndex] = true
		t.count++
	}
	return t, nil
}

// Lookup returns the record of node i, if any.
func (t *Table) Lookup(i int) (Record, bool) {
	if i < 0 || i >= len(t.records) || !t.present[i] {
		return Record{}, false
	}
	return t.records[i], true
}

// Score returns the anomaly score of node i, or 0 when it has no record.
func (t *Table) Score(i int) float64 {
	r, ok := t.Lookup(i)
	if !ok {
		return 0
	}
	return r.Score
}

// Len returns the number of nodes with a record.
func (t *Table) Len() int {
	return t.count
}

// Size returns the number of nodes the table covers.
func (t *Table) Size() int {
	return len(t.records)
}

// Records returns the present records in node order.
func (t *Table) Records() []Record {
	out := make([]Record, 0, t.count)
	for i, ok := range t.present {
		if ok {
			out = append(out, t.records[i])
		}
	}
	return out
}
