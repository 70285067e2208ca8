package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the workflow state of a claim request.
type Status string

const (
	StatusDomainChoice    Status = "domain_choice"
	StatusProfileEntry    Status = "profile_entry"
	StatusDomainConfirmed Status = "domain_confirmed"
	StatusPendingOTP      Status = "pending_otp"
	StatusVerified        Status = "verified"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// MaxDisplayNameLength is the maximum display name length in runes.
const MaxDisplayNameLength = 200

var (
	ErrDisplayNameRequired = errors.New("display name is required")
	ErrDisplayNameTooLong  = errors.New("display name is too long")
	ErrEmailRequired       = errors.New("business email is required")
	ErrInvalidEmail        = errors.New("business email is not a valid address")
)

// transitions lists the allowed edges of the claim workflow.
var transitions = map[Status][]Status{
	StatusDomainChoice: {StatusProfileEntry, StatusRejected},
	StatusProfileEntry: {StatusDomainConfirmed, StatusPendingOTP, StatusRejected},
	StatusPendingOTP:   {StatusPendingOTP, StatusVerified, StatusExpired, StatusRejected},
	StatusExpired:      {StatusPendingOTP, StatusRejected},
}

// ClaimRequest is one claimant's attempt to claim ownership of a company.
type ClaimRequest struct {
	ID             string
	CompanyID      string
	ClaimantUserID string
	DisplayName    string
	// PhotoRef is an opaque reference from the photo upload service.
	PhotoRef      string
	BusinessEmail string
	// HasDomainEmail is nil until the claimant answers the domain question.
	HasDomainEmail *bool
	Status         Status
	CodesIssued    int
	LastCodeSentAt *time.Time
	// Version increases on every successful update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDomainChoice, StatusProfileEntry, StatusDomainConfirmed, StatusPendingOTP,
		StatusVerified, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no workflow operation can move a claim out of s.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusDomainConfirmed || s == StatusRejected
}

// Active reports whether a claim in s blocks a new claim for the same company and claimant.
func (s Status) Active() bool {
	return s != StatusRejected
}

// CanTransition reports whether from -> to is an edge of the workflow.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DomainAsserted reports whether the claimant said they hold a company-domain email.
func (c *ClaimRequest) DomainAsserted() bool {
	return c.HasDomainEmail != nil && *c.HasDomainEmail
}

// Clone returns a deep copy of c.
func (c *ClaimRequest) Clone() *ClaimRequest {
	if c == nil {
		return nil
	}
	out := *c
	if c.HasDomainEmail != nil {
		v := *c.HasDomainEmail
		out.HasDomainEmail = &v
	}
	if c.LastCodeSentAt != nil {
		t := *c.LastCodeSentAt
		out.LastCodeSentAt = &t
	}
	return &out
}

// NormalizeDisplayName trims name and enforces the length limit.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrDisplayNameRequired
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}

// NormalizeEmail checks that email is a bare address (no display name) with a dotted
// domain and returns it with the domain lowercased.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	local, host := email[:at], email[at+1:]
	if local == "" || !strings.Contains(host, ".") || strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return "", ErrInvalidEmail
	}
	return local + "@" + strings.ToLower(host), nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
