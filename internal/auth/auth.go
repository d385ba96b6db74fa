// Package auth implements bearer API-key authentication. The server
// holds a single Argon2id hash of the ingest/query key; an empty hash
// disables auth entirely (dev mode).
package auth

import (
	"fmt"
	"strings"
)

// Verifier checks presented API keys against the configured hash.
type Verifier struct {
	keyHash string
}

// NewVerifier creates a Verifier. An empty keyHash means auth is
// disabled and every request is allowed.
func NewVerifier(keyHash string) *Verifier {
	return &Verifier{keyHash: keyHash}
}

// Enabled reports whether a key hash is configured.
func (v *Verifier) Enabled() bool {
	return v.keyHash != ""
}

// Authenticate validates an Authorization header value. With auth
// disabled it always succeeds. Verification cost is constant whether or
// not a bearer token was sent, so timing does not reveal configuration.
func (v *Verifier) Authenticate(authorization string) error {
	if !v.Enabled() {
		return nil
	}

	key, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || key == "" {
		DummyVerify()
		return fmt.Errorf("auth: missing bearer token")
	}

	valid, err := VerifyAPIKey(key, v.keyHash)
	if err != nil {
		return fmt.Errorf("auth: verify key: %w", err)
	}
	if !valid {
		return fmt.Errorf("auth: invalid API key")
	}
	return nil
}
