// Package paths enumerates bounded-length simple directed paths between
// candidate start and end nodes.
//
// Enumeration is exhaustive depth-first search with backtracking, so its cost
// grows exponentially with branching factor and path length. The length
// bound is a hard design constraint: MaxAllowedPathLength caps it, and the
// default of four nodes (three hops) keeps searches over medium graphs fast.
// Callers that analyse dense graphs should also set MaxPathsPerPair or a
// TimeBudget; both truncate the result rather than fail.
package paths

import (
	"errors"
	"fmt"
	"time"
)

// Path length limits, counted in nodes.
const (
	MinPathLength        = 2
	DefaultMaxPathLength = 4
	MaxAllowedPathLength = 10
)

var (
	// ErrInvalidPathLength is returned when MaxPathLength is out of range.
	ErrInvalidPathLength = fmt.Errorf("max path length out of valid range [%d, %d]", MinPathLength, MaxAllowedPathLength)

	// ErrInvalidLimit is returned for negative limits or budgets.
	ErrInvalidLimit = errors.New("limits must be non-negative")

	// ErrNodeOutOfRange is returned when a candidate index is not a graph node.
	ErrNodeOutOfRange = errors.New("candidate node out of range")

	errTimeBudget = errors.New("path enumeration time budget exhausted")
)

// Path is a sequence of distinct node indices joined by directed edges.
type Path []int

// Topology is the read-only adjacency the search walks.
type Topology interface {
	NumNodes() int
	// Successors lists each directly reachable node once.
	Successors(node int) []int
}

// Pair is one ordered start/end candidate pair.
type Pair struct {
	Start int
	End   int
}

// TruncationReason says why a result is incomplete.
type TruncationReason string

const (
	NotTruncated     TruncationReason = ""
	ReasonPathLimit  TruncationReason = "path_limit"
	ReasonTimeBudget TruncationReason = "time_budget"
	ReasonCancelled  TruncationReason = "cancelled"
)

// Options configures an Enumerator.
type Options struct {
	// MaxPathLength is the longest path in nodes. 0 selects the default.
	MaxPathLength int `yaml:"max_path_length" json:"max_path_length"`

	// MaxPathsPerPair keeps only the first paths found for each pair.
	// 0 means unlimited.
	MaxPathsPerPair int `yaml:"max_paths_per_pair" json:"max_paths_per_pair"`

	// TimeBudget bounds the whole enumeration. 0 means unbounded.
	TimeBudget time.Duration `yaml:"time_budget" json:"time_budget"`

	// Workers is the number of pairs searched concurrently. 0 selects
	// GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultOptions returns unlimited enumeration of paths up to four nodes.
func DefaultOptions() Options {
	return Options{MaxPathLength: DefaultMaxPathLength}
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.MaxPathLength == 0 {
		o.MaxPathLength = DefaultMaxPathLength
	}
	if o.MaxPathLength < MinPathLength || o.MaxPathLength > MaxAllowedPathLength {
		return fmt.Errorf("%w: got %d", ErrInvalidPathLength, o.MaxPathLength)
	}
	if o.MaxPathsPerPair < 0 || o.TimeBudget < 0 || o.Workers < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Result is the merged outcome of enumerating every pair.
type Result struct {
	// Paths are in discovery order: start ascending, then end ascending, then
	// depth-first order within the pair.
	Paths []Path

	Truncated bool
	Reason    TruncationReason

	PairsTotal    int
	PairsSearched int
}
