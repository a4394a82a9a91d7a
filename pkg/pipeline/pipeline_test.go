package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/malaphor/pkg/anomaly"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/graph"
	"github.com/dd0wney/malaphor/pkg/paths"
	"github.com/dd0wney/malaphor/pkg/roles"
)

type passthroughEmbedder struct{ err error }

func (e passthroughEmbedder) Embed(_ context.Context, features [][]float64, _ []graph.Edge) ([][]float64, error) {
	return features, e.err
}

// fixedDetector returns the same records whatever it is given.
type fixedDetector struct {
	recs []anomaly.Record
	err  error
}

func (d fixedDetector) Detect(context.Context, [][]float64) ([]anomaly.Record, error) {
	return d.recs, d.err
}

type fakeRecorder struct {
	mu     sync.Mutex
	stages []string
	runs   []string
	found  int
}

func (f *fakeRecorder) RecordStage(stage string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *fakeRecorder) RecordRun(status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, status)
}

func (f *fakeRecorder) RecordGraph(int, int) {}

func (f *fakeRecorder) RecordPaths(found int, _ bool, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.found = found
}

func event(src, srcType, dst, dstType string) events.Event {
	return events.Event{
		SourceID:         src,
		SourceType:       srcType,
		TargetID:         dst,
		TargetType:       dstType,
		RelationshipType: "accesses",
		Timestamp:        1,
		Feature1:         1,
		Feature2:         0.5,
	}
}

func rec(i int, score float64) anomaly.Record {
	p := anomaly.Inlier
	if score < 0 {
		p = anomaly.Outlier
	}
	return anomaly.Record{NodeIndex: i, Score: score, Prediction: p}
}

func newTestPipeline(t *testing.T, det anomaly.Provider, maxLen int, rec MetricsRecorder) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Embedder:   passthroughEmbedder{},
		Detector:   det,
		Classifier: roles.Default(),
		Paths:      paths.Options{MaxPathLength: maxLen},
		Metrics:    rec,
	})
	require.NoError(t, err)
	return p
}

func TestRunChainScenario(t *testing.T) {
	evs := []events.Event{
		event("u1", "user", "r1", "resource"),
		event("r1", "resource", "db1", "resource"),
	}
	metrics := &fakeRecorder{}
	det := fixedDetector{recs: []anomaly.Record{rec(0, -0.1), rec(1, -0.5), rec(2, 0.2)}}
	p := newTestPipeline(t, det, 3, metrics)

	res, err := p.Run(context.Background(), evs)
	require.NoError(t, err)

	require.Len(t, res.RiskyPaths, 1)
	top := res.RiskyPaths[0]
	assert.InDelta(t, -0.4, top.Score, 1e-12)
	assert.Equal(t, []string{"u1", "r1", "db1"}, top.PathIDs)
	assert.Equal(t, "u1 (user) -> r1 (resource) -> db1 (resource)", top.PathWithTypes)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.PathsFound)
	assert.False(t, res.Truncated)
	assert.Equal(t, 1, res.Stats.StartCandidates)
	assert.Equal(t, 1, res.Stats.EndCandidates)
	assert.Equal(t, 2, res.Stats.Outliers)

	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "r1", res.Nodes[1].ID)
	require.NotNil(t, res.Nodes[1].AnomalyScore)
	assert.Equal(t, -0.5, *res.Nodes[1].AnomalyScore)
	assert.Equal(t, []float64{1, 2, 0.5}, res.Nodes[1].Features)
	assert.Equal(t, []EdgeRecord{
		{Source: "u1", Target: "r1", RelationshipType: "accesses"},
		{Source: "r1", Target: "db1", RelationshipType: "accesses"},
	}, res.Edges)

	assert.Equal(t, []string{"build", "embed", "detect", "enumerate", "rank"}, metrics.stages)
	assert.Equal(t, []string{"ok"}, metrics.runs)
	assert.Equal(t, 1, metrics.found)
}

func TestRunNoPathIsEmptyResult(t *testing.T) {
	// The only edge runs from the end candidate back to the start candidate.
	evs := []events.Event{event("db1", "database", "u1", "user")}
	p := newTestPipeline(t, fixedDetector{recs: []anomaly.Record{rec(0, -1), rec(1, -1)}}, 4, nil)

	res, err := p.Run(context.Background(), evs)
	require.NoError(t, err)
	assert.Empty(t, res.RiskyPaths)
	assert.NotNil(t, res.RiskyPaths)
	assert.Equal(t, 0, res.PathsFound)
}

func TestRunMissingAnomalySignal(t *testing.T) {
	evs := []events.Event{
		event("u1", "user", "r1", "resource"),
		event("r1", "resource", "db1", "resource"),
	}
	p := newTestPipeline(t, fixedDetector{}, 4, nil)

	res, err := p.Run(context.Background(), evs)
	require.NoError(t, err)
	require.Len(t, res.RiskyPaths, 1)
	assert.Equal(t, 0.0, res.RiskyPaths[0].Score)
	for _, n := range res.Nodes {
		assert.Nil(t, n.AnomalyScore)
		assert.Nil(t, n.Prediction)
	}
}

func TestRunInvalidInput(t *testing.T) {
	metrics := &fakeRecorder{}
	p := newTestPipeline(t, fixedDetector{}, 4, metrics)

	_, err := p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, events.ErrEmptyEvents)

	bad := []events.Event{event("u1", "user", "", "resource")}
	_, err = p.Run(context.Background(), bad)
	var ve *events.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "target_id", ve.Field)
	assert.False(t, errors.Is(err, ErrPipelineFailed), "validation error reported as pipeline failure")

	assert.Equal(t, []string{"invalid", "invalid"}, metrics.runs)
	assert.Empty(t, metrics.stages)
}

func TestRunRejectsOverflowingAggregates(t *testing.T) {
	p, err := FromConfig(config.Default(), nil, nil)
	require.NoError(t, err)

	evs := []events.Event{
		event("user_1", "user", "db_1", "database"),
		event("user_1", "user", "db_1", "database"),
		event("user_2", "user", "db_1", "database"),
	}
	evs[0].Feature1 = 1e308
	evs[1].Feature1 = 1e308

	res, err := p.Run(context.Background(), evs)
	assert.Nil(t, res)
	var ve *events.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "feature1", ve.Field)
	assert.Equal(t, 2, ve.Row)
	assert.False(t, errors.Is(err, ErrPipelineFailed), "overflow reported as pipeline failure")
}

func TestRunStageFailures(t *testing.T) {
	evs := []events.Event{event("u1", "user", "db1", "database")}
	boom := errors.New("model crashed")

	tests := []struct {
		name  string
		opts  Options
		stage Stage
		cause error
	}{
		{
			name:  "embedder",
			opts:  Options{Embedder: passthroughEmbedder{err: boom}, Detector: fixedDetector{}},
			stage: StageEmbed,
			cause: boom,
		},
		{
			name:  "detector",
			opts:  Options{Embedder: passthroughEmbedder{}, Detector: fixedDetector{err: boom}},
			stage: StageDetect,
			cause: boom,
		},
		{
			name:  "duplicate record",
			opts:  Options{Embedder: passthroughEmbedder{}, Detector: fixedDetector{recs: []anomaly.Record{rec(0, 1), rec(0, 2)}}},
			stage: StageDetect,
			cause: anomaly.ErrDuplicateRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Classifier = roles.Default()
			p, err := New(tt.opts)
			require.NoError(t, err)

			_, err = p.Run(context.Background(), evs)
			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.ErrorIs(t, err, ErrPipelineFailed)
			assert.ErrorIs(t, err, tt.cause)
			assert.True(t, strings.HasPrefix(err.Error(), "pipeline failure at stage "+string(tt.stage)))
		})
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, fixedDetector{}, 4, nil)
	_, err := p.Run(ctx, []events.Event{event("u1", "user", "db1", "database")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrPipelineFailed)
}

func TestRunSampleWithDefaults(t *testing.T) {
	cfg := config.Default()
	p, err := FromConfig(cfg, nil, nil)
	require.NoError(t, err)

	sample := events.GenerateSample(time.Unix(1_700_000_000, 0))
	first, err := p.Run(context.Background(), sample)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), sample)
	require.NoError(t, err)

	assert.Len(t, first.Nodes, 11)
	assert.Len(t, first.Edges, 11)
	assert.NotEmpty(t, first.RiskyPaths)
	assert.LessOrEqual(t, len(first.RiskyPaths), 10)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.RiskyPaths, second.RiskyPaths)

	for i := 1; i < len(first.RiskyPaths); i++ {
		assert.LessOrEqual(t, first.RiskyPaths[i-1].Score, first.RiskyPaths[i].Score)
	}
	for _, n := range first.Nodes {
		require.NotNil(t, n.AnomalyScore, "node %s has no score", n.ID)
	}
	assert.Greater(t, first.Stats.Outliers, 0)
	assert.Len(t, first.Outliers(), first.Stats.Outliers)
	top := first.TopAnomalies(3)
	require.Len(t, top, 3)
	assert.LessOrEqual(t, *top[0].AnomalyScore, *top[1].AnomalyScore)
}

func TestRunCSV(t *testing.T) {
	p := newTestPipeline(t, fixedDetector{}, 4, nil)
	input := "source_id,source_type,target_id,target_type,relationship_type,timestamp,feature1,feature2\n" +
		"u1,user,db1,database,accesses,1,1,1\n"

	res, err := p.RunCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.RiskyPaths, 1)
	assert.Equal(t, "u1 (user) -> db1 (database)", res.RiskyPaths[0].PathWithTypes)
}

func TestNewRejectsIncompleteOptions(t *testing.T) {
	_, err := New(Options{Detector: fixedDetector{}, Classifier: roles.Default()})
	assert.Error(t, err)
	_, err = New(Options{Embedder: passthroughEmbedder{}, Detector: fixedDetector{}})
	assert.Error(t, err)
	_, err = New(Options{
		Embedder:   passthroughEmbedder{},
		Detector:   fixedDetector{},
		Classifier: roles.Default(),
		Paths:      paths.Options{MaxPathLength: 1},
	})
	assert.ErrorIs(t, err, paths.ErrInvalidPathLength)
}
