package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const RetailerHeader = "X-Retailer-ID"

type ctxKey int

const retailerKey ctxKey = iota

// RequestIDMiddleware echoes the request id assigned by middleware.RequestID back to the caller.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID := middleware.GetReqID(r.Context()); requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}
		next.ServeHTTP(w, r)
	})
}

// RetailerScopeMiddleware picks up the retailer the upstream auth gateway resolved for the caller.
// Requests without the header are unscoped.
func RetailerScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retailerID := strings.TrimSpace(r.Header.Get(RetailerHeader))
		if retailerID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), retailerKey, retailerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func retailerFromContext(ctx context.Context) string {
	if retailerID, ok := ctx.Value(retailerKey).(string); ok {
		return retailerID
	}
	return ""
}
