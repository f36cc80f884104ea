package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/keystone/internal/abuse"
	"github.com/wisbric/keystone/internal/autoblock"
	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/httpserver"
)

// AbuseSuspects handles GET /admin/abuse/suspects.
func (a *API) AbuseSuspects(w http.ResponseWriter, r *http.Request) {
	windowMinutes := queryInt(r, "window_minutes", 10)
	minUnauth401 := queryInt(r, "min_unauth_401", 20)
	limit := queryInt(r, "limit", 20)

	result, err := a.abuse.Suspects(r.Context(), windowMinutes, minUnauth401, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list suspects")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"window_minutes": result.WindowMinutes,
		"min_unauth_401": result.MinUnauth401,
		"from_ts":        result.From,
		"to_ts":          result.To,
		"suspects":       result.Suspects,
	})
}

// IPTimeline handles GET /admin/abuse/ip/{client_ip}.
func (a *API) IPTimeline(w http.ResponseWriter, r *http.Request) {
	clientIP := chi.URLParam(r, "client_ip")
	minutes := queryInt(r, "minutes", 60)
	limit := queryInt(r, "limit", 200)

	timeline, err := a.abuse.Timeline(r.Context(), clientIP, minutes, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to build IP timeline")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"client_ip": timeline.ClientIP,
		"from_ts":   timeline.From,
		"to_ts":     timeline.To,
		"counts": map[string]any{
			"total":           timeline.Total,
			"unauth_rows":     timeline.Unauth,
			"unauth_401":      timeline.Unauth401,
			"rate_limited_429": timeline.RateLimited429,
			"success_2xx":     timeline.Success2xx,
		},
		"by_status": timeline.ByStatus,
		"top_paths": timeline.TopPaths,
		"events":    timeline.Events,
	})
}

// autoBlockRequest is the body for POST /admin/abuse/auto-block, mirroring
// AutoBlockFromSuspectsIn's defaults and clamps.
type autoBlockRequest struct {
	WindowMinutes    int    `json:"window_minutes"`
	MinUnauth401     int    `json:"min_unauth_401"`
	TTLSeconds       int    `json:"ttl_seconds"`
	ReasonCode       string `json:"reason_code"`
	Reason           string `json:"reason"`
	DryRun           *bool  `json:"dry_run"`
	IncludeLocalhost bool   `json:"include_localhost"`
	Limit            int    `json:"limit"`
}

func (req *autoBlockRequest) applyDefaults() {
	if req.WindowMinutes == 0 {
		req.WindowMinutes = 10
	}
	if req.MinUnauth401 == 0 {
		req.MinUnauth401 = 50
	}
	if req.TTLSeconds == 0 {
		req.TTLSeconds = 600
	}
	if req.ReasonCode == "" {
		req.ReasonCode = string(blocklist.ReasonAutoUnauth401)
	}
	if req.Reason == "" {
		req.Reason = "auto: unauth_401 surge"
	}
	if req.DryRun == nil {
		t := true
		req.DryRun = &t
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
}

// AutoBlockFromSuspects handles POST /admin/abuse/auto-block.
func (a *API) AutoBlockFromSuspects(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.EnableAutoBlock {
		httpserver.RespondError(w, http.StatusConflict, "auto_block_disabled", "Auto-block is disabled. Set ENABLE_AUTO_BLOCK=true to enable.")
		return
	}

	var req autoBlockRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.applyDefaults()

	windowMinutes := abuse.Clamp(req.WindowMinutes, abuse.SuspectsWindowMin, abuse.SuspectsWindowMax)
	minUnauth401 := abuse.Clamp(req.MinUnauth401, abuse.SuspectsMinUnauthMin, abuse.SuspectsMinUnauthMax)
	ttlSeconds := clampTTL(req.TTLSeconds)
	limit := clampInt(req.Limit, 1, 500)

	result, err := a.autoblock.Run(r.Context(), autoblock.Params{
		WindowMinutes:       windowMinutes,
		MinUnauth401:        minUnauth401,
		Count:               limit,
		TTL:                 time.Duration(ttlSeconds) * time.Second,
		ReasonCode:          blocklist.ReasonCode(req.ReasonCode),
		Reason:              req.Reason,
		DryRun:              *req.DryRun,
		IncludeLocalhost:    req.IncludeLocalhost,
		AllowBlockLocalhost: a.cfg.AllowBlockLocalhost,
		Actor:               autoblock.ActorAutoBlock,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to run auto-block")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"enabled":        true,
		"dry_run":        *req.DryRun,
		"window_minutes": windowMinutes,
		"min_unauth_401": minUnauth401,
		"ttl_seconds":    ttlSeconds,
		"from_ts":        result.From,
		"to_ts":          result.To,
		"blocked_count":  len(result.Blocked),
		"skipped_count":  len(result.Skipped),
		"blocked":        result.Blocked,
		"skipped":        result.Skipped,
	})
}

// blockSuspectsRequest is the body for POST /admin/abuse/suspects/block.
type blockSuspectsRequest struct {
	WindowMinutes    int    `json:"window_minutes"`
	MinUnauth401     int    `json:"min_unauth_401"`
	TopN             int    `json:"top_n"`
	TTLSeconds       int    `json:"ttl_seconds"`
	ReasonCode       string `json:"reason_code"`
	Reason           string `json:"reason"`
	DryRun           *bool  `json:"dry_run"`
	IncludeLocalhost bool   `json:"include_localhost"`
}

func (req *blockSuspectsRequest) applyDefaults() {
	if req.WindowMinutes == 0 {
		req.WindowMinutes = 10
	}
	if req.MinUnauth401 == 0 {
		req.MinUnauth401 = 50
	}
	if req.TopN == 0 {
		req.TopN = 10
	}
	if req.TTLSeconds == 0 {
		req.TTLSeconds = 600
	}
	if req.ReasonCode == "" {
		req.ReasonCode = string(blocklist.ReasonOneClickSuspect)
	}
	if req.Reason == "" {
		req.Reason = "one-click: suspects"
	}
	if req.DryRun == nil {
		t := true
		req.DryRun = &t
	}
}

// BlockTopSuspects handles POST /admin/abuse/suspects/block, the one-click
// shortcut that shares its algorithm with AutoBlockFromSuspects.
func (a *API) BlockTopSuspects(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.EnableAutoBlock {
		httpserver.RespondError(w, http.StatusConflict, "auto_block_disabled", "Auto-block is disabled. Set ENABLE_AUTO_BLOCK=true to enable.")
		return
	}

	var req blockSuspectsRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.applyDefaults()

	windowMinutes := abuse.Clamp(req.WindowMinutes, abuse.SuspectsWindowMin, abuse.SuspectsWindowMax)
	minUnauth401 := abuse.Clamp(req.MinUnauth401, abuse.SuspectsMinUnauthMin, abuse.SuspectsMinUnauthMax)
	topN := clampInt(req.TopN, 1, 200)
	ttlSeconds := clampTTL(req.TTLSeconds)

	result, err := a.autoblock.Run(r.Context(), autoblock.Params{
		WindowMinutes:       windowMinutes,
		MinUnauth401:        minUnauth401,
		Count:               topN,
		TTL:                 time.Duration(ttlSeconds) * time.Second,
		ReasonCode:          blocklist.ReasonCode(req.ReasonCode),
		Reason:              req.Reason,
		DryRun:              *req.DryRun,
		IncludeLocalhost:    req.IncludeLocalhost,
		AllowBlockLocalhost: a.cfg.AllowBlockLocalhost,
		Actor:               autoblock.ActorOneClick,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to block top suspects")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"dry_run":        *req.DryRun,
		"from_ts":        result.From,
		"to_ts":          result.To,
		"min_unauth_401": minUnauth401,
		"top_n":          topN,
		"ttl_seconds":    ttlSeconds,
		"blocked_count":  len(result.Blocked),
		"skipped_count":  len(result.Skipped),
		"blocked":        result.Blocked,
		"skipped":        result.Skipped,
	})
}

// clampInt bounds v to [min, max], treating a zero-or-negative v as min —
// used where the HTTP layer, not abuse.Clamp, owns the valid range.
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// clampTTL bounds a block TTL to 10 seconds..7 days, matching BlockIpIn's
// ttl_seconds field (spec.md §4.3, §4.9).
func clampTTL(seconds int) int {
	return clampInt(seconds, 10, 7*24*3600)
}
