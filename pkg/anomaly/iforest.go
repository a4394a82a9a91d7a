package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTrees         = 100
	DefaultMaxSamples    = 256
	DefaultContamination = 0.2
	DefaultSeed          = 42

	// autoOffset is the decision threshold used when contamination is unset.
	autoOffset = -0.5

	eulerGamma = 0.5772156649015329
)

// ErrRaggedMatrix is returned when embedding rows differ in width.
var ErrRaggedMatrix = errors.New("embedding rows differ in width")

// ForestConfig configures an IsolationForest.
type ForestConfig struct {
	Trees int `yaml:"trees" json:"trees" validate:"gte=1,lte=10000"`

	// MaxSamples is the subsample drawn for each tree, capped at the number
	// of rows. 0 selects 256.
	MaxSamples int `yaml:"max_samples" json:"max_samples" validate:"gte=0"`

	// Contamination is the expected share of outliers and sets the decision
	// threshold. 0 uses a fixed threshold instead.
	Contamination float64 `yaml:"contamination" json:"contamination" validate:"gte=0,lte=0.5"`

	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultForestConfig returns 100 trees, 256 samples, 20% contamination.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         DefaultTrees,
		MaxSamples:    DefaultMaxSamples,
		Contamination: DefaultContamination,
		Seed:          DefaultSeed,
	}
}

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them. It fits on the matrix it is asked to score. Scores follow the
// convention of a decision function: negative means outlier.
type IsolationForest struct {
	cfg ForestConfig
}

// NewIsolationForest returns a detector for cfg.
func NewIsolationForest(cfg ForestConfig) (*IsolationForest, error) {
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("isolation forest: trees must be >= 1, got %d", cfg.Trees)
	}
	if cfg.MaxSamples < 0 {
		return nil, fmt.Errorf("isolation forest: max samples must be >= 0, got %d", cfg.MaxSamples)
	}
	if cfg.Contamination < 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("isolation forest: contamination must be in [0, 0.5], got %g", cfg.Contamination)
	}
	return &IsolationForest{cfg: cfg}, nil
}

// Detect fits the forest on embeddings and returns one record per row.
func (f *IsolationForest) Detect(ctx context.Context, embeddings [][]float64) ([]Record, error) {
	n := len(embeddings)
	if n == 0 {
		return nil, ErrNoSamples
	}
	width := len(embeddings[0])
	for i, row := range embeddings {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRaggedMatrix, i, len(row), width)
		}
	}

	if n == 1 {
		return []Record{{NodeIndex: 0, Score: 0, Prediction: Inlier}}, nil
	}

	scores, err := f.scoreSamples(ctx, embeddings)
	if err != nil {
		return nil, err
	}

	offset := autoOffset
	if f.cfg.Contamination > 0 {
		offset = percentile(scores, 100*f.cfg.Contamination)
	}

	records := make([]Record, n)
	for i, s := range scores {
		d := s - offset
		p := Inlier
		if d < 0 {
			p = Outlier
		}
		records[i] = Record{NodeIndex: i, Score: d, Prediction: p}
	}
	return records, nil
}

// subsampleSize is the per-tree sample: DefaultMaxSamples when unset, and
// never more than the n rows available.
func subsampleSize(maxSamples, n int) int {
	if maxSamples == 0 {
		return min(DefaultMaxSamples, n)
	}
	return min(maxSamples, n)
}

// scoreSamples returns -2^(-E[h(x)]/c(psi)) for every row. Trees are grown
// concurrently, each from its own seeded stream, so results do not depend on
// scheduling.
func (f *IsolationForest) scoreSamples(ctx context.Context, x [][]float64) ([]float64, error) {
	n := len(x)
	psi := subsampleSize(f.cfg.MaxSamples, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	depths := make([][]float64, f.cfg.Trees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < f.cfg.Trees; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(f.cfg.Seed, uint64(t)))
			sample := rng.Perm(n)[:psi]
			root := grow(x, sample, 0, maxDepth, rng)

			d := make([]float64, n)
			for i, row := range x {
				d[i] = root.pathLength(row)
			}
			depths[t] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("isolation forest: %w", err)
	}

	norm := averagePathLength(psi)
	scores := make([]float64, n)
	for i := range scores {
		var sum float64
		for t := range depths {
			sum += depths[t][i]
		}
		mean := sum / float64(len(depths))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

// itree is a node of an isolation tree. Leaves have left == nil.
type itree struct {
	feature   int
	threshold float64
	left      *itree
	right     *itree
	size      int
}

func grow(x [][]float64, rows []int, depth, maxDepth int, rng *rand.Rand) *itree {
	if depth >= maxDepth || len(rows) <= 1 {
		return &itree{size: len(rows)}
	}

	// Choose uniformly among features that still vary within this node.
	width := len(x[rows[0]])
	var candidates []int
	lo := make([]float64, width)
	hi := make([]float64, width)
	for k := 0; k < width; k++ {
		lo[k], hi[k] = math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			lo[k] = min(lo[k], x[r][k])
			hi[k] = max(hi[k], x[r][k])
		}
		if hi[k] > lo[k] {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return &itree{size: len(rows)}
	}

	k := candidates[rng.IntN(len(candidates))]
	threshold := lo[k] + rng.Float64()*(hi[k]-lo[k])

	var left, right []int
	for _, r := range rows {
		if x[r][k] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &itree{
		feature:   k,
		threshold: threshold,
		left:      grow(x, left, depth+1, maxDepth, rng),
		right:     grow(x, right, depth+1, maxDepth, rng),
		size:      len(rows),
	}
}

// pathLength is the depth at which row lands plus the expected remaining depth
// of the unbuilt subtree below that leaf.
func (t *itree) pathLength(row []float64) float64 {
	depth := 0
	node := t
	for node.left != nil {
		if row[node.feature] < node.threshold {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is the mean path length of an unsuccessful search in a
// binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		m := float64(n)
		return 2*(math.Log(m-1)+eulerGamma) - 2*(m-1)/m
	}
}

// percentile interpolates linearly between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
