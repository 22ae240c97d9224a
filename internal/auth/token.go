// Package auth authenticates API requests with opaque bearer tokens. Only
// the SHA-256 hash of a token is stored; the token itself is shown once at
// provisioning time.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateToken mints a new API token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "pv_" + hex.EncodeToString(b), nil
}

// HashToken is the lookup key stored in users.token_hash.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
