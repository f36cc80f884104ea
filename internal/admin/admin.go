// Package admin implements the operator-facing HTTP surface (spec.md
// §4.7): tenant/credential management, usage analytics, abuse detection,
// and the IP blocklist, all gated behind a static admin token.
package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/keystone/internal/abuse"
	"github.com/wisbric/keystone/internal/autoblock"
	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/credential"
	"github.com/wisbric/keystone/internal/httpserver"
	"github.com/wisbric/keystone/internal/tenant"
	"github.com/wisbric/keystone/internal/usage"
)

// Config holds the dependencies and runtime flags the admin surface needs.
type Config struct {
	AdminToken          string
	EnableAutoBlock     bool
	AllowBlockLocalhost bool
	DefaultRateLimit    int
	DefaultRateWindow   int
}

// API wires every admin dependency together; its methods are the route
// handlers mounted by Router.
type API struct {
	cfg         Config
	tenants     *tenant.Store
	credentials *credential.Store
	usage       *usage.Store
	abuse       *abuse.Detector
	blocks      *blocklist.Store
	autoblock   *autoblock.Controller
}

// New creates an admin API.
func New(cfg Config, tenants *tenant.Store, credentials *credential.Store, usageStore *usage.Store, detector *abuse.Detector, blocks *blocklist.Store, controller *autoblock.Controller) *API {
	return &API{
		cfg:         cfg,
		tenants:     tenants,
		credentials: credentials,
		usage:       usageStore,
		abuse:       detector,
		blocks:      blocks,
		autoblock:   controller,
	}
}

// RequireAdminToken rejects any request whose X-Admin-Token header does not
// match the configured token.
func (a *API) RequireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" || token != a.cfg.AdminToken {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router mounts the full admin surface under the given chi Router, gated
// behind RequireAdminToken.
func Router(r chi.Router, a *API) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(a.RequireAdminToken)

		r.Post("/tenants", a.CreateTenant)
		r.Post("/tenants/{tenant_id}/keys", a.CreateAPIKey)
		r.Get("/tenants/{tenant_id}/keys", a.ListAPIKeys)
		r.Post("/keys/{key_id}/revoke", a.RevokeAPIKey)
		r.Post("/keys/{key_id}/limits", a.SetKeyLimits)
		r.Post("/keys/{key_id}/tier", a.SetKeyTier)

		r.Get("/tenants/{tenant_id}/usage/summary", a.UsageSummary)
		r.Get("/tenants/{tenant_id}/usage/top-endpoints", a.UsageTopEndpoints)
		r.Get("/tenants/{tenant_id}/usage/by-key", a.UsageByKey)
		r.Get("/tenants/{tenant_id}/usage/status-classes", a.UsageStatusClasses)
		r.Get("/tenants/{tenant_id}/usage/events", a.ListUsageEvents)
		r.Get("/tenants/{tenant_id}/usage/rate-limited", a.TenantRateLimitedUsage)
		r.Get("/tenants/{tenant_id}/keys/near-quota", a.KeysNearQuota)
		r.Get("/usage/unauth", a.UnauthUsage)
		r.Get("/usage/rate-limited", a.GlobalRateLimitedUsage)

		r.Get("/abuse/suspects", a.AbuseSuspects)
		r.Get("/abuse/ip/{client_ip}", a.IPTimeline)
		r.Post("/abuse/block-ip", a.BlockIP)
		r.Post("/abuse/unblock-ip", a.UnblockIP)
		r.Get("/abuse/blocked", a.ListBlockedIPs)
		r.Get("/abuse/blocked/{client_ip}", a.BlockedDetails)
		r.Get("/abuse/blocks/report", a.BlocksReport)
		r.Get("/abuse/blocks/events", a.BlockEvents)
		r.Post("/abuse/auto-block", a.AutoBlockFromSuspects)
		r.Post("/abuse/suspects/block", a.BlockTopSuspects)
	})
}

// queryInt reads an integer query parameter, falling back to def on absence
// or parse failure — every admin listing endpoint clamps its own range
// afterwards, so a bad value degrades to the default rather than a 400.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
