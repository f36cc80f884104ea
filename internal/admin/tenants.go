package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/keystone/internal/credential"
	"github.com/wisbric/keystone/internal/httpserver"
	"github.com/wisbric/keystone/internal/tenant"
)

type createTenantRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// CreateTenant handles POST /admin/tenants.
func (a *API) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := a.tenants.Create(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, tenant.ErrDuplicateName) {
			httpserver.RespondError(w, http.StatusConflict, "duplicate_name", "a tenant with this name already exists")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create tenant")
		return
	}

	httpserver.Respond(w, http.StatusCreated, t)
}

type createAPIKeyResponse struct {
	KeyID     string `json:"key_id"`
	TenantID  string `json:"tenant_id"`
	KeyPrefix string `json:"key_prefix"`
	APIKey    string `json:"api_key"`
}

// CreateAPIKey handles POST /admin/tenants/{tenant_id}/keys. The plaintext
// credential is returned exactly once; only its fingerprint is persisted.
func (a *API) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}

	if exists, err := a.tenants.Exists(r.Context(), tenantID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check tenant")
		return
	} else if !exists {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}

	plaintext, fingerprint, prefix, err := credential.Generate()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to generate credential")
		return
	}

	cred, err := a.credentials.Create(r.Context(), credential.CreateParams{
		TenantID:   tenantID,
		KeyHash:    fingerprint,
		KeyPrefix:  prefix,
		RateLimit:  a.cfg.DefaultRateLimit,
		RateWindow: a.cfg.DefaultRateWindow,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create credential")
		return
	}

	httpserver.Respond(w, http.StatusCreated, createAPIKeyResponse{
		KeyID:     cred.ID.String(),
		TenantID:  cred.TenantID.String(),
		KeyPrefix: cred.KeyPrefix,
		APIKey:    plaintext,
	})
}

type apiKeyOut struct {
	KeyID      string `json:"key_id"`
	KeyPrefix  string `json:"key_prefix"`
	RateLimit  int    `json:"rate_limit"`
	RateWindow int    `json:"rate_window"`
	Revoked    bool   `json:"revoked"`
}

// ListAPIKeys handles GET /admin/tenants/{tenant_id}/keys.
func (a *API) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant_id")
	if !ok {
		return
	}

	keys, err := a.credentials.ListByTenant(r.Context(), tenantID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list credentials")
		return
	}

	out := make([]apiKeyOut, 0, len(keys))
	for _, k := range keys {
		out = append(out, apiKeyOut{
			KeyID:      k.ID.String(),
			KeyPrefix:  k.KeyPrefix,
			RateLimit:  k.RateLimit,
			RateWindow: k.RateWindow,
			Revoked:    !k.Usable(),
		})
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"keys": out})
}

// RevokeAPIKey handles POST /admin/keys/{key_id}/revoke.
func (a *API) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathUUID(w, r, "key_id")
	if !ok {
		return
	}

	alreadyRevoked, err := a.credentials.Revoke(r.Context(), keyID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to revoke credential")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"key_id":          keyID.String(),
		"revoked":         true,
		"already_revoked": alreadyRevoked,
	})
}

type setKeyLimitsRequest struct {
	RateLimit  int `json:"rate_limit" validate:"required,min=1,max=1000000"`
	RateWindow int `json:"rate_window" validate:"required,min=1,max=86400"`
}

// SetKeyLimits handles POST /admin/keys/{key_id}/limits.
func (a *API) SetKeyLimits(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathUUID(w, r, "key_id")
	if !ok {
		return
	}

	var req setKeyLimitsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cred, err := a.credentials.SetLimits(r.Context(), keyID, req.RateLimit, req.RateWindow)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to set limits")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"key_id":      cred.ID.String(),
		"rate_limit":  cred.RateLimit,
		"rate_window": cred.RateWindow,
	})
}

type setKeyTierRequest struct {
	Tier string `json:"tier" validate:"required,min=1,max=32"`
}

// SetKeyTier handles POST /admin/keys/{key_id}/tier.
func (a *API) SetKeyTier(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathUUID(w, r, "key_id")
	if !ok {
		return
	}

	var req setKeyTierRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	tier, known := credential.Tiers[req.Tier]
	if !known {
		httpserver.RespondError(w, http.StatusBadRequest, "unknown_tier", "unknown tier: "+req.Tier)
		return
	}

	cred, err := a.credentials.SetTier(r.Context(), keyID, tier.RateLimit, tier.RateWindow)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrNotFound):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "credential not found")
		case errors.Is(err, credential.ErrRevoked):
			httpserver.RespondError(w, http.StatusConflict, "revoked", "credential has been revoked")
		default:
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to set tier")
		}
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"key_id":      cred.ID.String(),
		"tier":        req.Tier,
		"rate_limit":  cred.RateLimit,
		"rate_window": cred.RateWindow,
	})
}

// pathUUID extracts and parses a chi URL parameter as a UUID, writing a 400
// response and returning ok=false on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
