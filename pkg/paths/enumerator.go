package paths

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"slices"

	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/parallel"
)

// Enumerator finds simple paths over an immutable topology.
type Enumerator struct {
	topo   Topology
	opts   Options
	logger logging.Logger
}

// NewEnumerator validates opts and returns an Enumerator over topo.
func NewEnumerator(topo Topology, opts Options, logger logging.Logger) (*Enumerator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Enumerator{
		topo:   topo,
		opts:   opts,
		logger: logger.With(logging.Component("paths")),
	}, nil
}

// Options returns the validated options.
func (e *Enumerator) Options() Options {
	return e.opts
}

// Pairs returns every ordered (start, end) pair with start != end, sorted by
// start index and then end index. Duplicate candidates are ignored.
func Pairs(starts, ends []int) []Pair {
	s := slices.Compact(slices.Sorted(slices.Values(starts)))
	t := slices.Compact(slices.Sorted(slices.Values(ends)))

	pairs := make([]Pair, 0, len(s)*len(t))
	for _, a := range s {
		for _, b := range t {
			if a != b {
				pairs = append(pairs, Pair{Start: a, End: b})
			}
		}
	}
	return pairs
}

func (e *Enumerator) checkCandidates(nodes ...[]int) error {
	n := e.topo.NumNodes()
	for _, list := range nodes {
		for _, v := range list {
			if v < 0 || v >= n {
				return fmt.Errorf("%w: %d not in [0, %d)", ErrNodeOutOfRange, v, n)
			}
		}
	}
	return nil
}

// withBudget derives the context that bounds a whole enumeration.
func (e *Enumerator) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.TimeBudget > 0 {
		return context.WithTimeoutCause(ctx, e.opts.TimeBudget, errTimeBudget)
	}
	return context.WithCancel(ctx)
}

func stopReason(ctx context.Context) TruncationReason {
	if errors.Is(context.Cause(ctx), errTimeBudget) {
		return ReasonTimeBudget
	}
	return ReasonCancelled
}

// pairOutcome is one pair's slot in the merged result.
type pairOutcome struct {
	paths    []Path
	searched bool
	limited  bool
	stopped  bool
}

// searchPair runs one pair to completion, to its path limit, or until ctx ends.
func (e *Enumerator) searchPair(ctx context.Context, p Pair) pairOutcome {
	var out pairOutcome
	limit := e.opts.MaxPathsPerPair

	s := newSearch(ctx, e.topo, e.opts.MaxPathLength)
	s.run(p.Start, p.End, func(path Path) bool {
		if limit > 0 && len(out.paths) == limit {
			out.limited = true
			return false
		}
		out.paths = append(out.paths, path)
		return true
	})
	out.searched = s.err == nil
	out.stopped = s.err != nil
	return out
}

// All enumerates every pair concurrently on a worker pool and merges the
// per-pair results in pair order, so the output is the same as a sequential
// run. Budget exhaustion or cancellation yields a truncated result, not an
// error; errors are reserved for invalid input and task panics.
func (e *Enumerator) All(ctx context.Context, starts, ends []int) (*Result, error) {
	if err := e.checkCandidates(starts, ends); err != nil {
		return nil, err
	}

	ctx, cancel := e.withBudget(ctx)
	defer cancel()

	pairs := Pairs(starts, ends)
	slots := make([]pairOutcome, len(pairs))

	workers := e.opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool, err := parallel.NewWorkerPool(min(workers, max(len(pairs), 1)), e.logger)
	if err != nil {
		return nil, err
	}
	for i, p := range pairs {
		if err := pool.Submit(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			slots[i] = e.searchPair(ctx, p)
		}); err != nil {
			break
		}
	}
	if err := pool.Wait(); err != nil {
		return nil, fmt.Errorf("enumerate paths: %w", err)
	}

	res := &Result{PairsTotal: len(pairs)}
	stopped := false
	for _, slot := range slots {
		res.Paths = append(res.Paths, slot.paths...)
		if slot.searched {
			res.PairsSearched++
		} else {
			stopped = true
		}
		if slot.limited {
			res.Truncated = true
			res.Reason = ReasonPathLimit
		}
	}
	if stopped {
		res.Truncated = true
		res.Reason = stopReason(ctx)
	}

	if res.Truncated {
		e.logger.Warn("path enumeration truncated",
			logging.String("reason", string(res.Reason)),
			logging.Int("pairs_searched", res.PairsSearched),
			logging.Int("pairs_total", res.PairsTotal),
			logging.Count(len(res.Paths)))
	} else {
		e.logger.Debug("path enumeration complete",
			logging.Int("pairs", res.PairsTotal),
			logging.Count(len(res.Paths)))
	}
	return res, nil
}

// Seq yields paths one at a time in discovery order on the calling
// goroutine. Iteration stops early when the consumer stops, when ctx ends, or
// when the time budget runs out. MaxPathsPerPair applies per pair. Invalid
// candidate indices yield nothing.
func (e *Enumerator) Seq(ctx context.Context, starts, ends []int) iter.Seq[Path] {
	return func(yield func(Path) bool) {
		if err := e.checkCandidates(starts, ends); err != nil {
			e.logger.Error("path sequence rejected candidates", logging.Error(err))
			return
		}
		ctx, cancel := e.withBudget(ctx)
		defer cancel()

		limit := e.opts.MaxPathsPerPair
		s := newSearch(ctx, e.topo, e.opts.MaxPathLength)
		for _, p := range Pairs(starts, ends) {
			if ctx.Err() != nil {
				return
			}
			n := 0
			stoppedByConsumer := false
			s.run(p.Start, p.End, func(path Path) bool {
				if limit > 0 && n == limit {
					return false
				}
				n++
				if !yield(path) {
					stoppedByConsumer = true
					return false
				}
				return true
			})
			if stoppedByConsumer || s.err != nil {
				return
			}
		}
	}
}
