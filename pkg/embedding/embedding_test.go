package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/dd0wney/malaphor/pkg/graph"
)

func TestMeanAggregatorShape(t *testing.T) {
	features := [][]float64{{0, 10, 0.5}, {1, 20, 0.1}, {1, 30, 0.9}}
	edges := []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}}

	for layers := 0; layers <= 3; layers++ {
		m, err := NewMeanAggregator(layers)
		if err != nil {
			t.Fatal(err)
		}
		out, err := m.Embed(context.Background(), features, edges)
		if err != nil {
			t.Fatalf("layers=%d: %v", layers, err)
		}
		want := 3 << layers
		for i, row := range out {
			if len(row) != want {
				t.Errorf("layers=%d row %d width %d, want %d", layers, i, len(row), want)
			}
		}
	}
}

func TestMeanAggregatorValues(t *testing.T) {
	// One column: standardised values are -1, 1.
	features := [][]float64{{0}, {2}}
	edges := []graph.Edge{{Source: 0, Target: 1}}

	m, _ := NewMeanAggregator(1)
	out, err := m.Embed(context.Background(), features, edges)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{{-1, 0}, {1, -1}}
	for i := range want {
		for k := range want[i] {
			if math.Abs(out[i][k]-want[i][k]) > 1e-12 {
				t.Fatalf("out = %v, want %v", out, want)
			}
		}
	}
}

func TestMeanAggregatorConstantColumn(t *testing.T) {
	m, _ := NewMeanAggregator(0)
	out, err := m.Embed(context.Background(), [][]float64{{3, 1}, {3, 2}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0] != 0 || out[1][0] != 0 {
		t.Errorf("constant column not zeroed: %v", out)
	}
}

func TestMeanAggregatorErrors(t *testing.T) {
	m, _ := NewMeanAggregator(DefaultLayers)
	ctx := context.Background()

	if _, err := m.Embed(ctx, nil, nil); !errors.Is(err, ErrNoNodes) {
		t.Errorf("empty: %v", err)
	}
	if _, err := m.Embed(ctx, [][]float64{{1}, {1, 2}}, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("ragged: %v", err)
	}
	if _, err := m.Embed(ctx, [][]float64{{1}}, []graph.Edge{{Source: 0, Target: 4}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("bad edge: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Embed(cancelled, [][]float64{{1}}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: %v", err)
	}
	if _, err := NewMeanAggregator(MaxLayers + 1); err == nil {
		t.Error("accepted too many layers")
	}
}
