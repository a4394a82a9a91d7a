package graphql

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// Request is a GraphQL POST body.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Response is the GraphQL reply envelope.
type Response struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
}

// Error is one GraphQL error.
type Error struct {
	Message string `json:"message"`
}

// Handler serves GraphQL over HTTP POST.
type Handler struct {
	schema   graphql.Schema
	maxDepth int
}

// NewHandler returns a Handler enforcing maxDepth, or DefaultMaxDepth when
// maxDepth is not positive.
func NewHandler(schema graphql.Schema, maxDepth int) *Handler {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Handler{schema: schema, maxDepth: maxDepth}
}

// Execute runs one request against the schema.
func (h *Handler) Execute(ctx context.Context, req Request) *graphql.Result {
	if err := ValidateQueryDepth(req.Query, h.maxDepth); err != nil {
		return &graphql.Result{Errors: []gqlerrors.FormattedError{gqlerrors.FormatError(err)}}
	}
	return graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(Response{Errors: []Error{{Message: "method not allowed"}}})
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Response{Errors: []Error{{Message: "invalid request body"}}})
		return
	}

	result := h.Execute(r.Context(), req)
	resp := Response{Data: result.Data}
	for _, err := range result.Errors {
		resp.Errors = append(resp.Errors, Error{Message: err.Message})
	}
	json.NewEncoder(w).Encode(resp)
}
