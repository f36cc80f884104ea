// Package requestctx carries per-request values — request id and resolved
// credential identity — across the middleware chain without creating import
// cycles between httpserver and gateway.
package requestctx

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "credential_identity"
)

// NewRequestID mints a fresh request identifier.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID attaches a request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request id from the context, or "" if unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Identity holds what the credential resolver learned about the caller,
// attached to the request context before revocation or quota checks run so
// that a later 401/429 still carries enough context to be billable.
type Identity struct {
	TenantID   uuid.UUID
	APIKeyID   uuid.UUID
	RateLimit  int
	RateWindow int
}

// WithIdentity attaches a resolved (or partially resolved) identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the identity from the context, or nil if unset.
func IdentityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// ClientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
