package graphql

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// DefaultMaxDepth bounds nested selections. The schema itself is three
// levels deep.
const DefaultMaxDepth = 5

// queryDepth returns the deepest selection of any operation. Fragments are
// resolved by name; a fragment cycle counts each fragment once.
func queryDepth(doc *ast.Document) int {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragments[frag.Name.Value] = frag
		}
	}

	deepest := 0
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			deepest = max(deepest, selectionDepth(op.SelectionSet, 0, fragments, map[string]bool{}))
		}
	}
	return deepest
}

func selectionDepth(set *ast.SelectionSet, depth int, fragments map[string]*ast.FragmentDefinition, seen map[string]bool) int {
	if set == nil {
		return depth
	}
	deepest := depth
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if strings.HasPrefix(s.Name.Value, "__") {
				continue
			}
			deepest = max(deepest, selectionDepth(s.SelectionSet, depth+1, fragments, seen))
		case *ast.InlineFragment:
			deepest = max(deepest, selectionDepth(s.SelectionSet, depth, fragments, seen))
		case *ast.FragmentSpread:
			name := s.Name.Value
			if frag, ok := fragments[name]; ok && !seen[name] {
				seen[name] = true
				deepest = max(deepest, selectionDepth(frag.SelectionSet, depth, fragments, seen))
				delete(seen, name)
			}
		}
	}
	return deepest
}

// ValidateQueryDepth parses query and rejects it when deeper than maxDepth.
func ValidateQueryDepth(query string, maxDepth int) error {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}
	if depth := queryDepth(doc); depth > maxDepth {
		return fmt.Errorf("query depth %d exceeds maximum allowed depth %d", depth, maxDepth)
	}
	return nil
}
