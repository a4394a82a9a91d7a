// Package graphql exposes the analysis pipeline over GraphQL. The schema has
// an analyze query that runs a CSV event table and a report query that reads
// an archived run.
package graphql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
)

// Resolver supplies results to the schema.
type Resolver interface {
	AnalyzeCSV(ctx context.Context, csv string) (*pipeline.Result, error)
	Report(ctx context.Context, runID string) (*pipeline.Result, error)
}

var riskyPathType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RiskyPath",
	Fields: graphql.Fields{
		"rank":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"score":         &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
		"pathIds":       &graphql.Field{Type: graphql.NewList(graphql.String)},
		"pathWithTypes": &graphql.Field{Type: graphql.String},
	},
})

var nodeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Node",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"label":        &graphql.Field{Type: graphql.String},
		"type":         &graphql.Field{Type: graphql.String},
		"anomalyScore": &graphql.Field{Type: graphql.Float},
		"prediction":   &graphql.Field{Type: graphql.Int},
		"features":     &graphql.Field{Type: graphql.NewList(graphql.Float)},
		"nodeIndex":    &graphql.Field{Type: graphql.Int},
	},
})

var edgeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Edge",
	Fields: graphql.Fields{
		"source":           &graphql.Field{Type: graphql.String},
		"target":           &graphql.Field{Type: graphql.String},
		"relationshipType": &graphql.Field{Type: graphql.String},
	},
})

var statsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Stats",
	Fields: graphql.Fields{
		"entities":        &graphql.Field{Type: graphql.Int},
		"events":          &graphql.Field{Type: graphql.Int},
		"typeConflicts":   &graphql.Field{Type: graphql.Int},
		"startCandidates": &graphql.Field{Type: graphql.Int},
		"endCandidates":   &graphql.Field{Type: graphql.Int},
		"pairsTotal":      &graphql.Field{Type: graphql.Int},
		"pairsSearched":   &graphql.Field{Type: graphql.Int},
		"outliers":        &graphql.Field{Type: graphql.Int},
	},
})

// resultField resolves a field of the Analysis type from *pipeline.Result,
// whose JSON tags do not match the GraphQL field names.
func resultField(t graphql.Output, get func(*pipeline.Result) any) *graphql.Field {
	return &graphql.Field{
		Type: t,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			res, ok := p.Source.(*pipeline.Result)
			if !ok || res == nil {
				return nil, nil
			}
			return get(res), nil
		},
	}
}

func analysisType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Analysis",
		Fields: graphql.Fields{
			"runId": resultField(graphql.NewNonNull(graphql.ID), func(r *pipeline.Result) any {
				return r.RunID
			}),
			"startedAt": resultField(graphql.String, func(r *pipeline.Result) any {
				return r.StartedAt.UTC().Format(time.RFC3339Nano)
			}),
			"durationMs": resultField(graphql.Int, func(r *pipeline.Result) any {
				return r.DurationMillis
			}),
			"pathsFound": resultField(graphql.Int, func(r *pipeline.Result) any {
				return r.PathsFound
			}),
			"truncated": resultField(graphql.Boolean, func(r *pipeline.Result) any {
				return r.Truncated
			}),
			"truncationReason": resultField(graphql.String, func(r *pipeline.Result) any {
				return r.TruncationReason
			}),
			"stats": resultField(statsType, func(r *pipeline.Result) any {
				return statsMap(r.Stats)
			}),
			"edges": resultField(graphql.NewList(edgeType), func(r *pipeline.Result) any {
				return edgeMaps(r.Edges)
			}),
			"riskyPaths": &graphql.Field{
				Type: graphql.NewList(riskyPathType),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					res := p.Source.(*pipeline.Result)
					n := len(res.RiskyPaths)
					if limit, ok := p.Args["limit"].(int); ok && limit >= 0 {
						n = min(n, limit)
					}
					out := make([]map[string]any, n)
					for i, rp := range res.RiskyPaths[:n] {
						out[i] = map[string]any{
							"rank":          i + 1,
							"score":         rp.Score,
							"pathIds":       rp.PathIDs,
							"pathWithTypes": rp.PathWithTypes,
						}
					}
					return out, nil
				},
			},
			"nodes": &graphql.Field{
				Type: graphql.NewList(nodeType),
				Args: graphql.FieldConfigArgument{
					"outliersOnly": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
					"top":          &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					res := p.Source.(*pipeline.Result)
					nodes := res.Nodes
					if top, ok := p.Args["top"].(int); ok {
						nodes = res.TopAnomalies(top)
					} else if only, _ := p.Args["outliersOnly"].(bool); only {
						nodes = res.Outliers()
					}
					out := make([]map[string]any, len(nodes))
					for i, n := range nodes {
						out[i] = nodeMap(n)
					}
					return out, nil
				},
			},
		},
	})
}

// NewSchema builds the schema over r.
func NewSchema(r Resolver) (graphql.Schema, error) {
	analysis := analysisType()
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(graphql.ResolveParams) (any, error) {
					return "ok", nil
				},
			},
			"analyze": &graphql.Field{
				Type:        analysis,
				Description: "Run the pipeline over a CSV event table",
				Args: graphql.FieldConfigArgument{
					"csv": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					res, err := r.AnalyzeCSV(p.Context, p.Args["csv"].(string))
					if err != nil {
						return nil, publicError(err)
					}
					return res, nil
				},
			},
			"report": &graphql.Field{
				Type:        analysis,
				Description: "Load an archived run",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					res, err := r.Report(p.Context, p.Args["id"].(string))
					if errors.Is(err, report.ErrNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, publicError(err)
					}
					return res, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return schema, nil
}

func nodeMap(n pipeline.Node) map[string]any {
	m := map[string]any{
		"id":        n.ID,
		"label":     n.Label,
		"type":      n.Type,
		"features":  n.Features,
		"nodeIndex": n.NodeIndex,
	}
	if n.AnomalyScore != nil {
		m["anomalyScore"] = *n.AnomalyScore
	}
	if n.Prediction != nil {
		m["prediction"] = *n.Prediction
	}
	return m
}

func statsMap(s pipeline.Stats) map[string]any {
	return map[string]any{
		"entities":        s.Entities,
		"events":          s.Events,
		"typeConflicts":   s.TypeConflicts,
		"startCandidates": s.StartCandidates,
		"endCandidates":   s.EndCandidates,
		"pairsTotal":      s.PairsTotal,
		"pairsSearched":   s.PairsSearched,
		"outliers":        s.Outliers,
	}
}

func edgeMaps(edges []pipeline.EdgeRecord) []map[string]any {
	out := make([]map[string]any, len(edges))
	for i, e := range edges {
		out[i] = map[string]any{
			"source":           e.Source,
			"target":           e.Target,
			"relationshipType": e.RelationshipType,
		}
	}
	return out
}

// publicError keeps input errors readable and hides pipeline internals.
func publicError(err error) error {
	var verr *events.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, events.ErrEmptyEvents):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.New("analysis cancelled")
	case errors.Is(err, pipeline.ErrPipelineFailed):
		var se *pipeline.StageError
		if errors.As(err, &se) {
			return fmt.Errorf("analysis failed at stage %s", se.Stage)
		}
	}
	return errors.New("analysis failed")
}
