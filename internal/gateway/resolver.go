// Package gateway implements the middleware chain that fronts tenant-owned
// endpoints: blocklist check, credential resolution, rate limiting, and
// best-effort usage logging (spec.md §4.4, §4.5).
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/wisbric/keystone/internal/credential"
	"github.com/wisbric/keystone/internal/ratelimit"
	"github.com/wisbric/keystone/internal/requestctx"
	"github.com/wisbric/keystone/internal/telemetry"
)

// Outcome classifies how credential resolution ended, used both for the
// credential_resolutions_total metric and to pick the right HTTP status.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeMissing     Outcome = "missing"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRevoked     Outcome = "revoked"
	OutcomeRateLimited Outcome = "rate_limited"
)

// ErrUnauthenticated covers every reason a request carries no usable bearer
// credential: missing header, malformed header, unknown fingerprint, or a
// revoked credential. Callers distinguish the precise reason via Outcome.
var ErrUnauthenticated = errors.New("gateway: unauthenticated")

// ErrRateLimited is returned once the resolved credential's quota is spent
// for the current window.
var ErrRateLimited = errors.New("gateway: rate limited")

// Resolution is the result of a successful or failed credential resolution
// attempt, always populated enough to log the outcome even on failure.
type Resolution struct {
	Outcome  Outcome
	Identity *requestctx.Identity
	RateLimit ratelimit.Result
}

// Resolver authenticates bearer credentials and enforces their rate limit.
type Resolver struct {
	credentials *credential.Store
	limiter     *ratelimit.Limiter
}

// NewResolver creates a Resolver backed by the given credential store and
// rate limiter.
func NewResolver(credentials *credential.Store, limiter *ratelimit.Limiter) *Resolver {
	return &Resolver{credentials: credentials, limiter: limiter}
}

// Resolve extracts the bearer credential from authorization, looks it up,
// and checks its quota. It never returns a (Resolution, nil error) pair
// that a caller should treat as authenticated unless Outcome == OutcomeOK.
func (res *Resolver) Resolve(ctx context.Context, authorization string) (Resolution, error) {
	plaintext, ok := bearerToken(authorization)
	if !ok {
		telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeMissing)).Inc()
		return Resolution{Outcome: OutcomeMissing}, ErrUnauthenticated
	}

	fingerprint := credential.Fingerprint(plaintext)

	cred, err := res.credentials.GetByHash(ctx, fingerprint)
	if err != nil {
		telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeInvalid)).Inc()
		return Resolution{Outcome: OutcomeInvalid}, ErrUnauthenticated
	}

	if !credential.Equal(cred.KeyHash, fingerprint) {
		telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeInvalid)).Inc()
		return Resolution{Outcome: OutcomeInvalid}, ErrUnauthenticated
	}

	identity := &requestctx.Identity{
		TenantID:   cred.TenantID,
		APIKeyID:   cred.ID,
		RateLimit:  cred.RateLimit,
		RateWindow: cred.RateWindow,
	}

	if !cred.Usable() {
		telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeRevoked)).Inc()
		return Resolution{Outcome: OutcomeRevoked, Identity: identity}, ErrUnauthenticated
	}

	rl, err := res.limiter.Allow(ctx, cred.ID, cred.RateLimit, cred.RateWindow)
	if err != nil {
		return Resolution{Outcome: OutcomeOK, Identity: identity}, err
	}

	if !rl.Allowed {
		telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeRateLimited)).Inc()
		telemetry.RateLimitChecksTotal.WithLabelValues("denied").Inc()
		return Resolution{Outcome: OutcomeRateLimited, Identity: identity, RateLimit: rl}, ErrRateLimited
	}

	telemetry.RateLimitChecksTotal.WithLabelValues("allowed").Inc()
	telemetry.CredentialResolutionsTotal.WithLabelValues(string(OutcomeOK)).Inc()
	return Resolution{Outcome: OutcomeOK, Identity: identity, RateLimit: rl}, nil
}

// bearerToken extracts the plaintext credential from an Authorization
// header, requiring the "Bearer " scheme (spec.md §4.4).
func bearerToken(authorization string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
