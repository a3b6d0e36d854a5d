// Package auth implements the OAuth engine: PKCE helpers, the per-provider
// login and refresh flows, and the background token renewal loop. Flows write
// their results into the credential store as accounts.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a verifier/challenge pair for an S256 code exchange.
type PKCECodes struct {
	Verifier  string
	Challenge string
}

// NewPKCECodes generates a PKCE pair: 32 random bytes, base64url without
// padding, challenge = base64url(SHA-256(verifier)).
func NewPKCECodes() (*PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	hash := sha256.Sum256([]byte(verifier))
	return &PKCECodes{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
	}, nil
}

// NewState generates an opaque state parameter for authorize URLs.
func NewState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
