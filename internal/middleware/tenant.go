package middleware

import (
	"context"
	"net/http"

	"github.com/Strob0t/SpendPilot/internal/logger"
)

// HeaderTenantID carries the caller's tenant on every API request.
const HeaderTenantID = "X-Tenant-ID"

const maxTenantIDSize = 64

// TenantID requires an X-Tenant-ID header on every request and stores it in
// the context. Requests without a well-formed tenant id get 400.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(HeaderTenantID)
		if !validTenantID(tid) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing or malformed X-Tenant-ID header"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tid)))
	})
}

// WithTenantID returns a context carrying tenantID. Used by queue consumers
// that have no HTTP request. Log records written with the context carry
// tenant_id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return logger.WithTenantID(ctx, tenantID)
}

// TenantIDFromContext returns the tenant ID stored in ctx, or "" if absent.
func TenantIDFromContext(ctx context.Context) string {
	return logger.TenantID(ctx)
}

// validTenantID accepts 1-64 characters of [A-Za-z0-9._-].
func validTenantID(s string) bool {
	if s == "" || len(s) > maxTenantIDSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
