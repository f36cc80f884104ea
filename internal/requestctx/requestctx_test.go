package requestctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Fatalf("RequestID() on empty context = %q, want \"\"", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID() = %q, want %q", got, "req-123")
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == b {
		t.Fatal("NewRequestID() produced the same value twice")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := IdentityFromContext(ctx); got != nil {
		t.Fatalf("IdentityFromContext() on empty context = %+v, want nil", got)
	}

	identity := &Identity{
		TenantID:   uuid.New(),
		APIKeyID:   uuid.New(),
		RateLimit:  10,
		RateWindow: 60,
	}
	ctx = WithIdentity(ctx, identity)

	got := IdentityFromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.TenantID != identity.TenantID || got.APIKeyID != identity.APIKeyID {
		t.Errorf("identity = %+v, want %+v", got, identity)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{"remote addr only", "203.0.113.5:54321", "", "", "203.0.113.5"},
		{"x-forwarded-for single", "10.0.0.1:1234", "198.51.100.9", "", "198.51.100.9"},
		{"x-forwarded-for chain takes first", "10.0.0.1:1234", "198.51.100.9, 10.0.0.2", "", "198.51.100.9"},
		{"x-real-ip used when no xff", "10.0.0.1:1234", "", "198.51.100.7", "198.51.100.7"},
		{"xff preferred over x-real-ip", "10.0.0.1:1234", "198.51.100.9", "198.51.100.7", "198.51.100.9"},
		{"remote addr without port", "not-a-host-port", "", "", "not-a-host-port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-Ip", tt.xRealIP)
			}

			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
