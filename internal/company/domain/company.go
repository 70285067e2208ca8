package domain

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidDomain is returned when an email domain cannot be normalized.
var ErrInvalidDomain = errors.New("invalid email domain")

// Company is a listed company as seen by the claim workflow (read-only here).
type Company struct {
	ID   string
	Name string
	// KnownEmailDomain is the registered email domain in ASCII (punycode) form, or "".
	KnownEmailDomain string
}

// HasKnownDomain reports whether the company has a registered email domain.
func (c *Company) HasKnownDomain() bool {
	return c != nil && c.KnownEmailDomain != ""
}

// Validate validates the company for persistence.
func (c *Company) Validate() error {
	if c.ID == "" {
		return errors.New("company id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("company name is required")
	}
	if c.KnownEmailDomain != "" {
		d, err := NormalizeDomain(c.KnownEmailDomain)
		if err != nil {
			return err
		}
		c.KnownEmailDomain = d
	}
	return nil
}

// NormalizeDomain lowercases s, strips a leading "@" and trailing dots, and converts
// internationalized names to their ASCII form ("bücher.de" -> "xn--bcher-kva.de").
func NormalizeDomain(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", ErrInvalidDomain
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return "", ErrInvalidDomain
	}
	if !strings.Contains(ascii, ".") {
		return "", ErrInvalidDomain
	}
	return strings.ToLower(ascii), nil
}

// ErrNotFound is returned when a claim references a company that is not listed.
var ErrNotFound = errors.New("company not found")
