// Package auth handles bearer-token authentication for the admin surface:
// either the configured admin key or an operator session token.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Operator is an authenticated admin user as seen by middleware and
// handlers. The operator package owns the full account record.
type Operator struct {
	ID    string
	Email string
	Name  string
}

// SessionLookup resolves session tokens to operators. A nil operator with a
// nil error means the token is unknown or expired.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*Operator, error)
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// KeysEqual compares two plaintext keys in constant time via their hashes.
func KeysEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
