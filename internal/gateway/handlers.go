package gateway

import (
	"net/http"

	"github.com/wisbric/keystone/internal/httpserver"
	"github.com/wisbric/keystone/internal/requestctx"
)

// protectedResponse is returned by GET /protected (spec.md §4.4, grounded
// on the original gateway's bare tenant/key echo).
type protectedResponse struct {
	OK         bool   `json:"ok"`
	TenantID   string `json:"tenant_id"`
	APIKeyID   string `json:"api_key_id"`
}

// Protected is the canonical demo endpoint behind the full middleware
// chain: reaching it means the caller cleared the blocklist, presented a
// usable credential, and stayed within its quota.
func Protected(w http.ResponseWriter, r *http.Request) {
	identity := requestctx.IdentityFromContext(r.Context())
	httpserver.Respond(w, http.StatusOK, protectedResponse{
		OK:       true,
		TenantID: identity.TenantID.String(),
		APIKeyID: identity.APIKeyID.String(),
	})
}

// whoamiResponse echoes everything the gateway resolved about the caller,
// useful for tenants debugging their own integration.
type whoamiResponse struct {
	TenantID   string `json:"tenant_id"`
	APIKeyID   string `json:"api_key_id"`
	RateLimit  int    `json:"rate_limit"`
	RateWindow int    `json:"rate_window"`
	ClientIP   string `json:"client_ip"`
	RequestID  string `json:"request_id"`
}

// Whoami returns the resolved identity and request metadata for the caller.
func Whoami(w http.ResponseWriter, r *http.Request) {
	identity := requestctx.IdentityFromContext(r.Context())
	httpserver.Respond(w, http.StatusOK, whoamiResponse{
		TenantID:   identity.TenantID.String(),
		APIKeyID:   identity.APIKeyID.String(),
		RateLimit:  identity.RateLimit,
		RateWindow: identity.RateWindow,
		ClientIP:   requestctx.ClientIP(r),
		RequestID:  requestctx.RequestID(r.Context()),
	})
}
