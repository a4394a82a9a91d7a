// Package pipeline runs a complete risky-path analysis: build the graph,
// embed it, score nodes for anomalies, enumerate candidate paths, and rank
// them. Stages run strictly in order; each one finishes before the next
// starts.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/malaphor/pkg/anomaly"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/embedding"
	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/graph"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/paths"
	"github.com/dd0wney/malaphor/pkg/roles"
	"github.com/dd0wney/malaphor/pkg/scoring"
)

// MetricsRecorder receives run measurements. *metrics.Registry implements it.
type MetricsRecorder interface {
	RecordStage(stage string, d time.Duration)
	RecordRun(status string, d time.Duration)
	RecordGraph(entities, edges int)
	RecordPaths(found int, truncated bool, reason string)
}

// Options assembles a Pipeline from its collaborators.
type Options struct {
	Embedder   embedding.Provider
	Detector   anomaly.Provider
	Classifier roles.Classifier
	Paths      paths.Options
	TopN       int

	// EdgeWeights enables relationship-weighted scoring when non-nil.
	EdgeWeights map[string]float64

	Logger  logging.Logger
	Metrics MetricsRecorder
}

// Pipeline is safe for concurrent use; every Run owns its own graph.
type Pipeline struct {
	opts   Options
	logger logging.Logger
}

// New validates opts and returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if opts.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if opts.Classifier.Start == nil || opts.Classifier.End == nil {
		return nil, errors.New("pipeline: classifier needs start and end predicates")
	}
	if err := opts.Paths.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.TopN < 0 {
		return nil, fmt.Errorf("pipeline: %w", scoring.ErrInvalidTopN)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Pipeline{opts: opts, logger: opts.Logger.With(logging.Component("pipeline"))}, nil
}

// FromConfig builds a Pipeline with the default mean-aggregation embedder and
// isolation forest detector.
func FromConfig(cfg config.Config, logger logging.Logger, rec MetricsRecorder) (*Pipeline, error) {
	emb, err := embedding.NewMeanAggregator(cfg.Embedding.Layers)
	if err != nil {
		return nil, err
	}
	det, err := anomaly.NewIsolationForest(cfg.Anomaly)
	if err != nil {
		return nil, err
	}
	cls, err := cfg.Roles.Compile()
	if err != nil {
		return nil, err
	}
	opts := Options{
		Embedder:   emb,
		Detector:   det,
		Classifier: cls,
		Paths:      cfg.PathOptions(),
		TopN:       cfg.Pipeline.TopN,
		Logger:     logger,
		Metrics:    rec,
	}
	if cfg.Scoring.EdgeWeighting {
		opts.EdgeWeights = cfg.Scoring.RelationshipWeights
	}
	return New(opts)
}

// RunCSV parses a CSV event table and runs it.
func (p *Pipeline) RunCSV(ctx context.Context, r io.Reader) (*Result, error) {
	evs, err := events.ReadCSV(r)
	if err != nil {
		p.record("invalid", 0)
		return nil, err
	}
	return p.Run(ctx, evs)
}

// Run analyses one event table. Invalid input returns the validation error
// before any graph is built. A failing stage returns a *StageError. An
// enumeration that runs out of budget still succeeds with Truncated set.
func (p *Pipeline) Run(ctx context.Context, evs []events.Event) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	log := p.logger.With(logging.RunID(runID))

	res, err := p.run(ctx, log, evs)
	elapsed := time.Since(started)
	if err != nil {
		status := "failed"
		var ve *events.ValidationError
		if errors.As(err, &ve) || errors.Is(err, events.ErrEmptyEvents) {
			status = "invalid"
		}
		p.record(status, elapsed)
		log.Error("analysis failed", logging.Error(err), logging.Latency(elapsed))
		return nil, err
	}

	res.RunID = runID
	res.StartedAt = started.UTC()
	res.DurationMillis = elapsed.Milliseconds()
	p.record("ok", elapsed)
	log.Info("analysis complete",
		logging.Int("entities", res.Stats.Entities),
		logging.Int("paths_found", res.PathsFound),
		logging.Int("risky_paths", len(res.RiskyPaths)),
		logging.Bool("truncated", res.Truncated),
		logging.Latency(elapsed))
	return res, nil
}

func (p *Pipeline) record(status string, d time.Duration) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordRun(status, d)
	}
}

// stage times fn, records it, and converts its error into a StageError.
func (p *Pipeline) stage(ctx context.Context, log logging.Logger, stats *Stats, s Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return stageErr(s, err)
	}
	timer := logging.StartTimer(log, "stage finished", logging.Stage(string(s)))
	if err := fn(); err != nil {
		timer.EndError(err)
		var se *StageError
		var ve *events.ValidationError
		if errors.As(err, &se) || errors.As(err, &ve) {
			return err
		}
		return stageErr(s, err)
	}
	d := timer.End()
	stats.StageMillis[s] = d.Milliseconds()
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordStage(string(s), d)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, log logging.Logger, evs []events.Event) (*Result, error) {
	res := &Result{Stats: Stats{StageMillis: make(map[Stage]int64, len(Stages))}}

	// Validation happens ahead of the build stage so that bad input is
	// reported as-is rather than as a pipeline failure.
	if err := events.Validate(evs); err != nil {
		return nil, err
	}

	var g *graph.Graph
	err := p.stage(ctx, log, &res.Stats, StageBuild, func() error {
		var err error
		g, err = graph.Build(evs)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, c := range g.Index().Conflicts() {
		log.Warn("entity seen with conflicting types",
			logging.EntityID(c.ID),
			logging.String("kept", c.Kept),
			logging.String("seen", c.Seen))
	}
	res.Stats.Entities = g.NumNodes()
	res.Stats.Events = g.NumEdges()
	res.Stats.TypeConflicts = len(g.Index().Conflicts())
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordGraph(g.NumNodes(), g.NumEdges())
	}

	var emb [][]float64
	err = p.stage(ctx, log, &res.Stats, StageEmbed, func() error {
		var err error
		emb, err = p.opts.Embedder.Embed(ctx, g.FeatureMatrix(), g.Edges())
		if err == nil && len(emb) != g.NumNodes() {
			err = fmt.Errorf("%w: %d embeddings for %d nodes", embedding.ErrDimensionMismatch, len(emb), g.NumNodes())
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var table *anomaly.Table
	err = p.stage(ctx, log, &res.Stats, StageDetect, func() error {
		recs, err := p.opts.Detector.Detect(ctx, emb)
		if err != nil {
			return err
		}
		table, err = anomaly.NewTable(g.NumNodes(), recs)
		return err
	})
	if err != nil {
		return nil, err
	}

	var found *paths.Result
	err = p.stage(ctx, log, &res.Stats, StageEnumerate, func() error {
		cls := p.opts.Classifier.Classify(g)
		res.Stats.StartCandidates = len(cls.Starts)
		res.Stats.EndCandidates = len(cls.Ends)

		en, err := paths.NewEnumerator(g, p.opts.Paths, log)
		if err != nil {
			return err
		}
		found, err = en.All(ctx, cls.Starts, cls.Ends)
		if err != nil {
			return err
		}
		// The caller abandoning the run is a failure; our own budget is not.
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.PathsFound = len(found.Paths)
	res.Truncated = found.Truncated
	res.TruncationReason = string(found.Reason)
	res.Stats.PairsTotal = found.PairsTotal
	res.Stats.PairsSearched = found.PairsSearched
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordPaths(len(found.Paths), found.Truncated, string(found.Reason))
	}

	err = p.stage(ctx, log, &res.Stats, StageRank, func() error {
		scorer := scoring.NewScorer(table)
		if p.opts.EdgeWeights != nil {
			scorer = scorer.WithEdgeWeigher(scoring.RelationshipWeights{Graph: g, Weights: p.opts.EdgeWeights})
		}
		var err error
		res.RiskyPaths, err = scoring.Ranker{TopN: p.opts.TopN}.Rank(g, scorer, found.Paths)
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Nodes = nodeTable(g, table)
	res.Edges = edgeTable(g)
	for _, n := range res.Nodes {
		if n.Prediction != nil && *n.Prediction == anomaly.Outlier {
			res.Stats.Outliers++
		}
	}
	if res.RiskyPaths == nil {
		res.RiskyPaths = []scoring.RiskyPath{}
	}
	return res, nil
}

func nodeTable(g *graph.Graph, table *anomaly.Table) []Node {
	nodes := make([]Node, g.NumNodes())
	for i := range nodes {
		e := g.Index().Entity(i)
		n := Node{
			ID:        e.ID,
			Label:     e.ID,
			Type:      e.Type,
			Features:  slices.Clone(g.Features(i)),
			NodeIndex: i,
		}
		if r, ok := table.Lookup(i); ok {
			score, pred := r.Score, r.Prediction
			n.AnomalyScore = &score
			n.Prediction = &pred
		}
		nodes[i] = n
	}
	return nodes
}

func edgeTable(g *graph.Graph) []EdgeRecord {
	evs := g.Events()
	edges := make([]EdgeRecord, len(evs))
	for i, ev := range evs {
		edges[i] = EdgeRecord{
			Source:           ev.SourceID,
			Target:           ev.TargetID,
			RelationshipType: ev.RelationshipType,
		}
	}
	return edges
}

func sortNodesByScore(nodes []Node) {
	slices.SortStableFunc(nodes, func(a, b Node) int {
		return cmp.Compare(*a.AnomalyScore, *b.AnomalyScore)
	})
}
