// Package tenant stores the tenant records that own credentials and usage.
package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an administrative owner of credentials and usage rows.
// Tenants are never deleted at runtime.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
