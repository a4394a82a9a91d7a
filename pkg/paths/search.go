package paths

import "context"

// ctxCheckInterval is how many node expansions pass between context checks.
const ctxCheckInterval = 1024

// search is the depth-first state for one (start, end) pair. It is not safe
// for concurrent use; each goroutine owns its own.
type search struct {
	topo     Topology
	target   int
	maxNodes int
	visited  []bool
	stack    []int
	steps    int

	ctx  context.Context
	err  error
	emit func(Path) bool
}

func newSearch(ctx context.Context, topo Topology, maxNodes int) *search {
	return &search{
		topo:     topo,
		maxNodes: maxNodes,
		visited:  make([]bool, topo.NumNodes()),
		stack:    make([]int, 0, maxNodes),
		ctx:      ctx,
	}
}

// run enumerates every simple path from start to end, calling emit for each.
// It returns false if emit asked to stop or the context ended.
func (s *search) run(start, end int, emit func(Path) bool) bool {
	if start == end {
		return true
	}
	s.target = end
	s.emit = emit
	s.stack = append(s.stack[:0], start)
	s.visited[start] = true
	ok := s.expand(start)
	s.visited[start] = false
	return ok
}

func (s *search) expand(u int) bool {
	s.steps++
	if s.steps%ctxCheckInterval == 0 {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}
	}

	depth := len(s.stack)
	for _, v := range s.topo.Successors(u) {
		if s.visited[v] {
			continue
		}
		if v == s.target {
			p := make(Path, depth+1)
			copy(p, s.stack)
			p[depth] = v
			if !s.emit(p) {
				return false
			}
			continue
		}
		// v is an intermediate node; the path still needs the target after it.
		if depth+2 > s.maxNodes {
			continue
		}
		s.visited[v] = true
		s.stack = append(s.stack, v)
		ok := s.expand(v)
		s.stack = s.stack[:depth]
		s.visited[v] = false
		if !ok {
			return false
		}
	}
	return true
}
