package gateway

import (
	"github.com/go-chi/chi/v5"

	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/credential"
	"github.com/wisbric/keystone/internal/ratelimit"
	"github.com/wisbric/keystone/internal/usage"
)

// Mount wires the usage-logging, blocklist-check, and credential-resolver
// middleware around the demo protected routes. Usage logging sits
// outermost so every outcome — a block, a 401, a 429, or a handled request
// — produces an event; the blocklist check runs next so a blocked IP is
// rejected before any credential or quota work happens.
func Mount(r chi.Router, credentials *credential.Store, limiter *ratelimit.Limiter, blocks *blocklist.Store, writer *usage.Writer) {
	resolver := NewResolver(credentials, limiter)

	r.Group(func(r chi.Router) {
		r.Use(UsageLogging(writer))
		r.Use(Blocklist(blocks))
		r.Use(RequireCredential(resolver))

		r.Get("/protected", Protected)
		r.Get("/whoami", Whoami)
	})
}
