package admin

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/keystone/internal/abuse"
	"github.com/wisbric/keystone/internal/httpserver"
)

// resolveTimeRange parses optional from/to query parameters (RFC3339),
// defaulting to_ts to now and from_ts to 24 hours before to_ts, matching the original admin
// surface's _resolve_timerange helper. It writes a 400 response and
// returns ok=false when from_ts is after to_ts (spec.md §4.7, §6).
func resolveTimeRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	to = time.Now().UTC()

	if v := r.URL.Query().Get("to_ts"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			to = parsed.UTC()
		}
	}
	from = to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from_ts"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			from = parsed.UTC()
		}
	}

	if from.After(to) {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "from_ts must not be after to_ts")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// UsageSummary handles GET /admin/tenants/{tenant_id}/usage/summary.
func (a *API) UsageSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}

	rows, err := a.usage.Summary(r.Context(), tenantID, from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to summarize usage")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"from_ts":   from,
		"to_ts":     to,
		"by_status": rows,
	})
}

// UsageTopEndpoints handles GET /admin/tenants/{tenant_id}/usage/top-endpoints.
func (a *API) UsageTopEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}
	limit := abuse.Clamp(queryInt(r, "limit", 10), 1, 100)

	rows, err := a.usage.TopEndpoints(r.Context(), tenantID, from, to, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list top endpoints")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"from_ts":   from,
		"to_ts":     to,
		"endpoints": rows,
	})
}

// UsageByKey handles GET /admin/tenants/{tenant_id}/usage/by-key.
func (a *API) UsageByKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}

	rows, err := a.usage.ByKey(r.Context(), tenantID, from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to aggregate usage by key")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"from_ts":   from,
		"to_ts":     to,
		"keys":      rows,
	})
}

// UsageStatusClasses handles GET /admin/tenants/{tenant_id}/usage/status-classes.
func (a *API) UsageStatusClasses(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}

	c2xx, c4xx, c5xx, err := a.usage.StatusClasses(r.Context(), tenantID, from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to summarize status classes")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"from_ts":   from,
		"to_ts":     to,
		"2xx":       c2xx,
		"4xx":       c4xx,
		"5xx":       c5xx,
	})
}

// ListUsageEvents handles GET /admin/tenants/{tenant_id}/usage/events.
func (a *API) ListUsageEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	limit := abuse.Clamp(queryInt(r, "limit", 50), 1, 200)
	offset := max(queryInt(r, "offset", 0), 0)

	events, err := a.usage.ListEvents(r.Context(), tenantID, limit, offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list usage events")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"limit":     limit,
		"offset":    offset,
		"events":    events,
	})
}

// UnauthUsage handles GET /admin/usage/unauth.
func (a *API) UnauthUsage(w http.ResponseWriter, r *http.Request) {
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}
	topLimit := abuse.Clamp(queryInt(r, "top_limit", 10), 1, 50)

	total, err := a.usage.UnauthTotal(r.Context(), from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to count unauth traffic")
		return
	}
	byStatus, err := a.usage.UnauthByStatus(r.Context(), from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to aggregate unauth traffic")
		return
	}
	topPaths, err := a.usage.UnauthTopPaths(r.Context(), from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list unauth top paths")
		return
	}
	topIPs, err := a.usage.UnauthTopIPs(r.Context(), from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list unauth top IPs")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"from_ts":   from,
		"to_ts":     to,
		"total":     total,
		"by_status": byStatus,
		"top_paths": topPaths,
		"top_ips":   topIPs,
	})
}

// GlobalRateLimitedUsage handles GET /admin/usage/rate-limited.
func (a *API) GlobalRateLimitedUsage(w http.ResponseWriter, r *http.Request) {
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}
	topLimit := abuse.Clamp(queryInt(r, "top_limit", 10), 1, 50)

	total, err := a.usage.RateLimitedTotal(r.Context(), uuid.Nil, from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to count rate-limited usage")
		return
	}
	topPaths, err := a.usage.RateLimitedTopPaths(r.Context(), uuid.Nil, from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list rate-limited top paths")
		return
	}
	byTenant, err := a.usage.RateLimitedByTenant(r.Context(), from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to aggregate rate-limited usage by tenant")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"from_ts":   from,
		"to_ts":     to,
		"total":     total,
		"top_paths": topPaths,
		"by_tenant": byTenant,
	})
}

// TenantRateLimitedUsage handles GET /admin/tenants/{tenant_id}/usage/rate-limited.
func (a *API) TenantRateLimitedUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		return
	}
	topLimit := abuse.Clamp(queryInt(r, "top_limit", 10), 1, 50)

	total, err := a.usage.RateLimitedTotal(r.Context(), tenantID, from, to)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to count rate-limited usage")
		return
	}
	topPaths, err := a.usage.RateLimitedTopPaths(r.Context(), tenantID, from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list rate-limited top paths")
		return
	}
	byKey, err := a.usage.RateLimitedByKey(r.Context(), tenantID, from, to, topLimit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to aggregate rate-limited usage by key")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"from_ts":   from,
		"to_ts":     to,
		"total":     total,
		"top_paths": topPaths,
		"by_key":    byKey,
	})
}

// KeysNearQuota handles GET /admin/tenants/{tenant_id}/keys/near-quota.
func (a *API) KeysNearQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}

	threshold := queryFloat(r, "threshold", 0.8)
	if threshold <= 0 || threshold > 1 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "threshold must be (0, 1]")
		return
	}
	limit := abuse.Clamp(queryInt(r, "limit", 20), abuse.NearQuotaLimitMin, abuse.NearQuotaLimitMax)

	keys, err := a.abuse.NearQuota(r.Context(), tenantID, threshold, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute near-quota keys")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID.String(),
		"threshold": threshold,
		"keys":      keys,
	})
}
