// Package credential implements the opaque bearer-credential codec and
// relational store backing the gateway's authentication path.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credential is a row from the api_keys table. The plaintext value is never
// stored; only its fingerprint (KeyHash) and a short KeyPrefix for display survive.
type Credential struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	KeyHash     string
	KeyPrefix   string
	RateLimit   int
	RateWindow  int
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Usable reports whether the credential has not been revoked.
func (c *Credential) Usable() bool {
	return c.RevokedAt == nil
}

// Generate draws 32 bytes from a CSPRNG and returns the URL-safe,
// unpadded base64 plaintext alongside its fingerprint and display prefix.
func Generate() (plaintext, fingerprint, prefix string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(b)
	fingerprint = Fingerprint(plaintext)
	prefix = Prefix(plaintext)
	return plaintext, fingerprint, prefix, nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of a plaintext
// credential. This is the value persisted and compared against.
func Fingerprint(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the first 8 characters of a plaintext credential, for
// display purposes only. It is never used for lookup.
func Prefix(plaintext string) string {
	const n = 8
	if len(plaintext) < n {
		return plaintext
	}
	return plaintext[:n]
}

// Equal performs a constant-time comparison of two fingerprints. Callers
// must never compare plaintext directly.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
