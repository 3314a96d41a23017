// Package middleware provides the HTTP middleware of the SpendPilot API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/SpendPilot/internal/logger"
)

const (
	headerRequestID     = "X-Request-ID"
	maxInboundRequestID = 128
)

// RequestID stores the caller's X-Request-ID in the context, or a fresh UUID
// when the header is missing or oversized. The id is echoed on the response
// so callers can correlate it with the decision logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxInboundRequestID {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
