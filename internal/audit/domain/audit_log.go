package domain

import "time"

// AuditLog is one audited action on the claim API.
type AuditLog struct {
	ID string
	// ActorID is the claimant user id, or a sentinel for system and admin callers.
	ActorID  string
	Action   string
	Resource string
	IP       string
	// Metadata is a small JSON object (claim id, status code).
	Metadata  string
	CreatedAt time.Time
}
