package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"
)

// Test issuer and audience used by NewTestTokenProvider.
const (
	TestIssuer   = "test-issuer"
	TestAudience = "test-audience"
)

// NewTestTokenProvider returns a TokenProvider with a freshly generated ES256 key pair.
// For unit tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(key, &key.PublicKey, TestIssuer, TestAudience, 15*time.Minute), nil
}
