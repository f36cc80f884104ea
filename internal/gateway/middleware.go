package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/httpserver"
	"github.com/wisbric/keystone/internal/ratelimit"
	"github.com/wisbric/keystone/internal/requestctx"
	"github.com/wisbric/keystone/internal/telemetry"
	"github.com/wisbric/keystone/internal/usage"
)

// excludedPaths never get a usage event, matching spec.md §4.6's resolution
// of the original's ambiguous "only log authenticated traffic" behavior:
// log every outcome except these operational surfaces.
var excludedPaths = map[string]bool{
	"/health":       true,
	"/healthz":      true,
	"/readyz":       true,
	"/docs":         true,
	"/openapi.json": true,
}

// blockedPayload is the JSON body returned on a blocklist hit (spec.md §4.3).
type blockedPayload struct {
	Detail            string  `json:"detail"`
	ClientIP          string  `json:"client_ip"`
	BlockID           string  `json:"block_id,omitempty"`
	ReasonCode        string  `json:"reason_code"`
	Reason            string  `json:"reason,omitempty"`
	RetryAfterSeconds *int64  `json:"retry_after_seconds"`
	ExpiresAtEpoch    int64   `json:"expires_at_epoch,omitempty"`
}

// Blocklist fast-fails a request from a blocked IP before any auth or
// rate-limit work happens. Mount places it inside UsageLogging and ahead of
// RequireCredential.
func Blocklist(store *blocklist.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := requestctx.ClientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			entry, blocked, err := store.Details(r.Context(), ip)
			if err != nil {
				// Fail open: a Redis hiccup must not take every tenant offline.
				next.ServeHTTP(w, r)
				return
			}
			if !blocked {
				next.ServeHTTP(w, r)
				return
			}

			telemetry.BlocklistHitsTotal.WithLabelValues(string(entry.ReasonCode)).Inc()

			if entry.TTLSeconds != nil {
				w.Header().Set("Retry-After", strconv.FormatInt(*entry.TTLSeconds, 10))
			}
			httpserver.Respond(w, http.StatusForbidden, blockedPayload{
				Detail:            "IP temporarily blocked",
				ClientIP:          ip,
				BlockID:           entry.BlockID,
				ReasonCode:        string(entry.ReasonCode),
				Reason:            entry.Reason,
				RetryAfterSeconds: entry.TTLSeconds,
				ExpiresAtEpoch:    entry.ExpiresAtEpoch,
			})
		})
	}
}

// rateLimitPayload is the body returned when a credential's quota is spent.
type rateLimitPayload struct {
	Detail string `json:"detail"`
}

// unauthorizedPayload is the body returned for every authentication failure.
type unauthorizedPayload struct {
	Detail string `json:"detail"`
}

// RequireCredential resolves the bearer credential on the request, applies
// its rate limit, and attaches the result to the context for downstream
// handlers and the usage-logging middleware — even on a 401/429 exit,
// so the event carries whatever identity was recovered before the failure.
func RequireCredential(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolution, err := resolver.Resolve(r.Context(), r.Header.Get("Authorization"))

			ctx := requestctx.WithIdentity(r.Context(), resolution.Identity)
			r = r.WithContext(ctx)

			if err == nil {
				setRateLimitHeaders(w, resolution.RateLimit)
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case errors.Is(err, ErrRateLimited):
				setRateLimitHeaders(w, resolution.RateLimit)
				w.Header().Set("Retry-After", strconv.FormatInt(resolution.RateLimit.Reset-time.Now().Unix(), 10))
				httpserver.Respond(w, http.StatusTooManyRequests, rateLimitPayload{Detail: "rate limit exceeded"})
			case errors.Is(err, ErrUnauthenticated):
				httpserver.Respond(w, http.StatusUnauthorized, unauthorizedPayload{Detail: unauthenticatedDetail(resolution.Outcome)})
			default:
				httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to resolve credential")
			}
		})
	}
}

func unauthenticatedDetail(outcome Outcome) string {
	switch outcome {
	case OutcomeMissing:
		return "Missing API key"
	case OutcomeRevoked:
		return "API key revoked"
	default:
		return "Invalid API key"
	}
}

func setRateLimitHeaders(w http.ResponseWriter, rl ratelimit.Result) {
	if rl.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset, 10))
}

// UsageLogging captures one usage event per request on every exit path,
// including ones the handlers or earlier middleware rejected, except the
// operational paths in excludedPaths (spec.md §4.6).
func UsageLogging(writer *usage.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &httpserver.StatusWriter{ResponseWriter: w, Status: http.StatusOK}

			var panicked any
			func() {
				defer func() {
					if panicked = recover(); panicked != nil {
						sw.Status = http.StatusInternalServerError
					}
				}()
				next.ServeHTTP(sw, r)
			}()

			identity := requestctx.IdentityFromContext(r.Context())
			event := usage.Event{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: sw.Status,
				LatencyMs:  float64(time.Since(start).Microseconds()) / 1000,
				Ts:         time.Now().UTC(),
				RequestID:  requestctx.RequestID(r.Context()),
				ClientIP:   requestctx.ClientIP(r),
				UserAgent:  r.Header.Get("User-Agent"),
			}
			if identity != nil {
				tenantID, apiKeyID := identity.TenantID, identity.APIKeyID
				event.TenantID = &tenantID
				event.APIKeyID = &apiKeyID
			}

			writer.Enqueue(event)

			if panicked != nil {
				panic(panicked)
			}
		})
	}
}
