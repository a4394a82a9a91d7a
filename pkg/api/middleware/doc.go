// Package middleware provides the HTTP middleware of the malaphor API server.
//
// Every constructor returns func(http.Handler) http.Handler, so a chain is
// built by plain nesting:
//
//	handler := middleware.PanicRecovery(logger)(mux)
//	handler = middleware.Logging(logger)(handler)
//	handler = middleware.RequestID()(handler)
//
// Auth and BodySizeLimit are applied per route; the rest wrap the whole mux.
package middleware
