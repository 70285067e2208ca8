// Package events publishes claim lifecycle events for the admin review collaborator.
package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	claimdomain "company-claims/backend/internal/claim/domain"
)

// Type names a claim lifecycle event.
type Type string

const (
	ClaimStarted         Type = "claim.started"
	ClaimDomainChosen    Type = "claim.domain_chosen"
	ClaimOTPSent         Type = "claim.otp_sent"
	ClaimOTPFailed       Type = "claim.otp_failed"
	ClaimDomainConfirmed Type = "claim.domain_confirmed"
	ClaimVerified        Type = "claim.verified"
	ClaimRejected        Type = "claim.rejected"
	ClaimExpired         Type = "claim.expired"
)

// AdminNotification reports whether events of type t ask an admin to review the claim.
func (t Type) AdminNotification() bool {
	return t == ClaimDomainConfirmed || t == ClaimVerified
}

// Event is one claim lifecycle event. It never carries a plaintext code.
type Event struct {
	ID             string            `json:"id"`
	Type           Type              `json:"type"`
	ClaimID        string            `json:"claimId"`
	CompanyID      string            `json:"companyId"`
	ClaimantUserID string            `json:"claimantUserId"`
	Status         string            `json:"status"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New builds an event for claim at now with a fresh ULID.
func New(t Type, claim *claimdomain.ClaimRequest, now time.Time, attrs map[string]string) Event {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	ev := Event{
		ID:         id.String(),
		Type:       t,
		OccurredAt: now.UTC(),
		Attributes: attrs,
	}
	if claim != nil {
		ev.ClaimID = claim.ID
		ev.CompanyID = claim.CompanyID
		ev.ClaimantUserID = claim.ClaimantUserID
		ev.Status = string(claim.Status)
	}
	return ev
}
