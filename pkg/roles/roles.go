// Package roles decides which entities may begin or end a risky path.
package roles

import (
	"fmt"
	"regexp"

	"github.com/dd0wney/malaphor/pkg/graph"
)

// Role is a bit set of path endpoint roles.
type Role uint8

const (
	RoleStart Role = 1 << iota
	RoleEnd

	RoleNone Role = 0
)

func (r Role) IsStart() bool { return r&RoleStart != 0 }
func (r Role) IsEnd() bool   { return r&RoleEnd != 0 }

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleStart:
		return "start"
	case RoleEnd:
		return "end"
	case RoleStart | RoleEnd:
		return "both"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Predicate reports whether an entity qualifies for a role. Predicates must be
// pure.
type Predicate func(id, typ string) bool

// Classifier pairs the start and end predicates.
type Classifier struct {
	Start Predicate
	End   Predicate
}

// Classification is the outcome of classifying every node of a graph.
type Classification struct {
	Roles  []Role
	Starts []int
	Ends   []int
}

// Classify labels every node. Starts and Ends are in ascending index order.
func (c Classifier) Classify(g *graph.Graph) Classification {
	idx := g.Index()
	out := Classification{Roles: make([]Role, idx.Len())}
	for i := 0; i < idx.Len(); i++ {
		e := idx.Entity(i)
		var r Role
		if c.Start != nil && c.Start(e.ID, e.Type) {
			r |= RoleStart
			out.Starts = append(out.Starts, i)
		}
		if c.End != nil && c.End(e.ID, e.Type) {
			r |= RoleEnd
			out.Ends = append(out.Ends, i)
		}
		out.Roles[i] = r
	}
	return out
}

// Pattern holds the regular expressions of one role. An entity matches when
// its type matches any of Types or its id matches any of IDs.
type Pattern struct {
	Types []string `yaml:"types" json:"types"`
	IDs   []string `yaml:"ids" json:"ids"`
}

// Policy is the configurable form of a Classifier.
type Policy struct {
	Start Pattern `yaml:"start" json:"start"`
	End   Pattern `yaml:"end" json:"end"`
}

// DefaultPolicy treats human actors and ids that look compromised or external
// as starts, and datastores, buckets and access-control groups as ends.
func DefaultPolicy() Policy {
	return Policy{
		Start: Pattern{
			Types: []string{`(?i)user|human|person|principal`},
			IDs:   []string{`(?i)compromised|external|anomalous|attacker|vm_z`},
		},
		End: Pattern{
			// Whole terms only, so "oracle_vm" is not an acl.
			Types: []string{`(?i)(^|[_\-\s.:\d])(db|database|datastore|bucket|storage|security_group|acl)([_\-\s.:]|\d|$)`},
			IDs:   []string{`(?i)^(db|s3|sg|rds|bucket)([_-]|\d|$)`},
		},
	}
}

// Compile builds a Classifier from the policy.
func (p Policy) Compile() (Classifier, error) {
	start, err := p.Start.compile()
	if err != nil {
		return Classifier{}, fmt.Errorf("start pattern: %w", err)
	}
	end, err := p.End.compile()
	if err != nil {
		return Classifier{}, fmt.Errorf("end pattern: %w", err)
	}
	return Classifier{Start: start, End: end}, nil
}

func (p Pattern) compile() (Predicate, error) {
	types, err := compileAll(p.Types)
	if err != nil {
		return nil, err
	}
	ids, err := compileAll(p.IDs)
	if err != nil {
		return nil, err
	}
	return func(id, typ string) bool {
		for _, re := range types {
			if re.MatchString(typ) {
				return true
			}
		}
		for _, re := range ids {
			if re.MatchString(id) {
				return true
			}
		}
		return false
	}, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Default returns the compiled default policy.
func Default() Classifier {
	c, err := DefaultPolicy().Compile()
	if err != nil {
		panic(err)
	}
	return c
}
