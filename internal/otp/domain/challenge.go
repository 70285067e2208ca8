package domain

import "time"

// Challenge is an issued verification code for one claim (stored in otp_challenges).
// At most one challenge per claim has SupersededAt == nil.
type Challenge struct {
	ID             string
	ClaimRequestID string
	CodeHash       string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Attempts       int
	ConsumedAt     *time.Time
	SupersededAt   *time.Time
	LockedAt       *time.Time
}

// Active reports whether the challenge is the current one for its claim.
func (c *Challenge) Active() bool {
	return c.SupersededAt == nil
}

// Consumed reports whether the code was already accepted once.
func (c *Challenge) Consumed() bool {
	return c.ConsumedAt != nil
}

// Locked reports whether wrong attempts exhausted the challenge.
func (c *Challenge) Locked() bool {
	return c.LockedAt != nil
}

// ExpiredAt reports whether now is past the challenge expiry.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
