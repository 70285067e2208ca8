package security

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrAPIKeyMismatch is returned when a presented admin API key does not match the stored hash.
var ErrAPIKeyMismatch = errors.New("api key mismatch")

// APIKeyChecker verifies admin API keys against a bcrypt hash. Only the hash is configured;
// the plaintext key is never stored or logged.
type APIKeyChecker struct {
	hash []byte
}

// NewAPIKeyChecker returns a checker for hash. An empty hash yields a checker that rejects every key.
func NewAPIKeyChecker(hash string) *APIKeyChecker {
	return &APIKeyChecker{hash: []byte(strings.TrimSpace(hash))}
}

// Enabled reports whether a hash is configured.
func (c *APIKeyChecker) Enabled() bool {
	return c != nil && len(c.hash) > 0
}

// Check returns nil when key matches the configured hash.
func (c *APIKeyChecker) Check(key string) error {
	if !c.Enabled() || key == "" {
		return ErrAPIKeyMismatch
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(key)); err != nil {
		return ErrAPIKeyMismatch
	}
	return nil
}

// HashAPIKey returns the bcrypt hash to configure for key (used by the seed tool).
func HashAPIKey(key string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
