// Package embedding turns node feature vectors and graph structure into
// fixed-width node embeddings.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dd0wney/malaphor/pkg/graph"
)

var (
	// ErrDimensionMismatch is returned when feature rows differ in width or an
	// edge refers to a missing row.
	ErrDimensionMismatch = errors.New("embedding input dimension mismatch")

	// ErrNoNodes is returned for an empty feature matrix.
	ErrNoNodes = errors.New("no nodes to embed")
)

// Provider produces one embedding per feature row, in row order.
type Provider interface {
	Embed(ctx context.Context, features [][]float64, edges []graph.Edge) ([][]float64, error)
}

const (
	DefaultLayers = 2
	MaxLayers     = 8
)

// MeanAggregator is an untrained GraphSAGE-style encoder. Features are
// standardised per column; each layer then appends, to every node's current
// vector, the mean of the current vectors of its in-neighbours (messages flow
// from source to target). The output width is the input width times
// 2^Layers. It is deterministic and needs no training.
type MeanAggregator struct {
	Layers int `yaml:"layers" json:"layers" validate:"gte=0,lte=8"`
}

// NewMeanAggregator returns an aggregator with the given depth.
func NewMeanAggregator(layers int) (*MeanAggregator, error) {
	if layers < 0 || layers > MaxLayers {
		return nil, fmt.Errorf("mean aggregator: layers must be in [0, %d], got %d", MaxLayers, layers)
	}
	return &MeanAggregator{Layers: layers}, nil
}

// Embed implements Provider.
func (m *MeanAggregator) Embed(ctx context.Context, features [][]float64, edges []graph.Edge) ([][]float64, error) {
	n := len(features)
	if n == 0 {
		return nil, ErrNoNodes
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrDimensionMismatch, i, len(row), width)
		}
	}

	incoming := make([][]int, n)
	for _, e := range edges {
		if e.Source < 0 || e.Source >= n || e.Target < 0 || e.Target >= n {
			return nil, fmt.Errorf("%w: edge %d->%d outside %d nodes", ErrDimensionMismatch, e.Source, e.Target, n)
		}
		incoming[e.Target] = append(incoming[e.Target], e.Source)
	}

	h := standardise(features)
	for layer := 0; layer < m.Layers; layer++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h = aggregate(h, incoming)
	}
	return h, nil
}

func aggregate(h [][]float64, incoming [][]int) [][]float64 {
	width := len(h[0])
	out := make([][]float64, len(h))
	for i := range h {
		row := make([]float64, 2*width)
		copy(row, h[i])
		if srcs := incoming[i]; len(srcs) > 0 {
			for _, s := range srcs {
				for k, v := range h[s] {
					row[width+k] += v
				}
			}
			inv := 1 / float64(len(srcs))
			for k := width; k < 2*width; k++ {
				row[k] *= inv
			}
		}
		out[i] = row
	}
	return out
}

// standardise scales each column to zero mean and unit variance. Constant
// columns become zero.
func standardise(x [][]float64) [][]float64 {
	n, width := len(x), len(x[0])
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, width)
	}
	for k := 0; k < width; k++ {
		var mean float64
		for i := range x {
			mean += x[i][k]
		}
		mean /= float64(n)

		var variance float64
		for i := range x {
			d := x[i][k] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(n))
		if std == 0 {
			continue
		}
		for i := range x {
			out[i][k] = (x[i][k] - mean) / std
		}
	}
	return out
}
