package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/scoring"
)

func TestSummarize(t *testing.T) {
	res := &pipeline.Result{
		RunID:      "run-1",
		PathsFound: 4,
		RiskyPaths: []scoring.RiskyPath{
			{Score: -1.2, PathWithTypes: "a (user) -> b (db)"},
			{Score: 0.3, PathWithTypes: "c (user) -> b (db)"},
		},
		Stats: pipeline.Stats{Entities: 3, Outliers: 1},
	}

	s := Summarize(res, "s3", "s3://reports/run-1.json")
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 4, s.PathsFound)
	assert.Equal(t, 1, s.Outliers)
	require.NotNil(t, s.TopScore)
	assert.Equal(t, -1.2, *s.TopScore)
	assert.Equal(t, "a (user) -> b (db)", s.TopPath)

	empty := Summarize(&pipeline.Result{RunID: "run-2"}, "", "")
	assert.Nil(t, empty.TopScore)
	assert.Empty(t, empty.TopPath)
}

func TestPublishSubscribe(t *testing.T) {
	addr := fmt.Sprintf("inproc://malaphor-notify-%d", time.Now().UnixNano())

	p, err := NewPublisher(addr, nil)
	require.NoError(t, err)
	defer p.Close()

	s, err := Subscribe(addr)
	require.NoError(t, err)
	defer s.Close()

	// A subscriber only sees messages sent after its connection is up, so
	// keep publishing until one arrives.
	want := Summary{RunID: "run-1", PathsFound: 2}
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, p.Publish(want))
		got, err := s.Next(50 * time.Millisecond)
		if err == nil {
			assert.Equal(t, want.RunID, got.RunID)
			assert.Equal(t, want.PathsFound, got.PathsFound)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no summary received: %v", err)
		}
	}

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(want), ErrClosed)
	assert.NoError(t, p.Close())
}
