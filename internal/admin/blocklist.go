package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/httpserver"
)

type blockIPRequest struct {
	ClientIP   string `json:"client_ip" validate:"required,min=1,max=128"`
	TTLSeconds int    `json:"ttl_seconds" validate:"required,min=10,max=604800"`
	ReasonCode string `json:"reason_code"`
	Reason     string `json:"reason"`
}

// BlockIP handles POST /admin/abuse/block-ip.
func (a *API) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req blockIPRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.ReasonCode == "" {
		req.ReasonCode = string(blocklist.ReasonManual)
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	result, err := a.blocks.Block(r.Context(), req.ClientIP, time.Duration(req.TTLSeconds)*time.Second, blocklist.ReasonCode(req.ReasonCode), req.Reason, "admin_api")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to block IP")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":           "blocked",
		"client_ip":        req.ClientIP,
		"block_id":         result.BlockID,
		"reason_code":      result.ReasonCode,
		"reason":           req.Reason,
		"ttl_seconds":      result.TTLSeconds,
		"expires_at_epoch": result.ExpiresAtEpoch,
	})
}

type unblockIPRequest struct {
	ClientIP string `json:"client_ip" validate:"required,min=1,max=128"`
}

// UnblockIP handles POST /admin/abuse/unblock-ip.
func (a *API) UnblockIP(w http.ResponseWriter, r *http.Request) {
	var req unblockIPRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.blocks.Unblock(r.Context(), req.ClientIP, "admin_api")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to unblock IP")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":             "unblocked",
		"client_ip":          req.ClientIP,
		"deleted":            result.Deleted,
		"removed_from_index": result.RemovedIndex,
	})
}

// ListBlockedIPs handles GET /admin/abuse/blocked.
func (a *API) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 200), 1, 1000)

	entries, err := a.blocks.List(r.Context(), limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list blocked IPs")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"limit":   limit,
		"count":   len(entries),
		"blocked": entries,
	})
}

// BlockedDetails handles GET /admin/abuse/blocked/{client_ip}.
func (a *API) BlockedDetails(w http.ResponseWriter, r *http.Request) {
	clientIP := chi.URLParam(r, "client_ip")

	entry, ok, err := a.blocks.Details(r.Context(), clientIP)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read block entry")
		return
	}
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "IP is not currently blocked")
		return
	}

	httpserver.Respond(w, http.StatusOK, entry)
}

// BlocksReport handles GET /admin/abuse/blocks/report.
func (a *API) BlocksReport(w http.ResponseWriter, r *http.Request) {
	lookbackMinutes := clampInt(queryInt(r, "lookback_minutes", 60), 1, 7*24*60)
	limit := clampInt(queryInt(r, "limit", 200), 1, 1000)

	result, err := a.blocks.Report(r.Context(), time.Duration(lookbackMinutes)*time.Minute, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to build blocks report")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"lookback_minutes": lookbackMinutes,
		"limit":            limit,
		"active":           result.Active,
		"expired_recently": result.ExpiredRecently,
		"stale_removed":    result.StaleRemoved,
	})
}

// BlockEvents handles GET /admin/abuse/blocks/events.
func (a *API) BlockEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 500)
	offset := max(queryInt(r, "offset", 0), 0)

	events, err := a.blocks.Events(r.Context(), limit, offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list block events")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"limit":  limit,
		"offset": offset,
		"count":  len(events),
		"events": events,
	})
}
