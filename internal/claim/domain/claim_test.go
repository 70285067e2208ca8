package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDomainChoice, StatusProfileEntry, true},
		{StatusDomainChoice, StatusDomainConfirmed, false},
		{StatusDomainChoice, StatusPendingOTP, false},
		{StatusProfileEntry, StatusDomainConfirmed, true},
		{StatusProfileEntry, StatusPendingOTP, true},
		{StatusProfileEntry, StatusVerified, false},
		{StatusPendingOTP, StatusVerified, true},
		{StatusPendingOTP, StatusPendingOTP, true},
		{StatusPendingOTP, StatusExpired, true},
		{StatusPendingOTP, StatusRejected, true},
		{StatusPendingOTP, StatusDomainConfirmed, false},
		{StatusExpired, StatusPendingOTP, true},
		{StatusExpired, StatusVerified, false},
		{StatusVerified, StatusPendingOTP, false},
		{StatusDomainConfirmed, StatusPendingOTP, false},
		{StatusRejected, StatusProfileEntry, false},
	}
	for _, tc := range testCases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatus_TerminalAndValid(t *testing.T) {
	for _, s := range []Status{StatusVerified, StatusDomainConfirmed, StatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("%s should have no outgoing edges", s)
		}
	}
	for _, s := range []Status{StatusDomainChoice, StatusProfileEntry, StatusPendingOTP, StatusExpired} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("approved").Valid() {
		t.Error("unknown status should be invalid")
	}
	if !StatusExpired.Valid() {
		t.Error("expired should be valid")
	}
	if StatusRejected.Active() || !StatusPendingOTP.Active() {
		t.Error("only rejected claims are inactive")
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	if got, err := NormalizeDisplayName("  Jane Doe "); err != nil || got != "Jane Doe" {
		t.Errorf("NormalizeDisplayName = %q, %v", got, err)
	}
	if _, err := NormalizeDisplayName("   "); !errors.Is(err, ErrDisplayNameRequired) {
		t.Errorf("blank name err = %v", err)
	}
	if _, err := NormalizeDisplayName(strings.Repeat("é", MaxDisplayNameLength)); err != nil {
		t.Errorf("name at limit: %v", err)
	}
	if _, err := NormalizeDisplayName(strings.Repeat("é", MaxDisplayNameLength+1)); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Errorf("long name err = %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	testCases := []struct {
		in   string
		want string
		err  error
	}{
		{"a@b.com", "a@b.com", nil},
		{" Jane.Doe@ACME.com ", "Jane.Doe@acme.com", nil},
		{"", "", ErrEmailRequired},
		{"not-an-email", "", ErrInvalidEmail},
		{"Jane <jane@acme.com>", "", ErrInvalidEmail},
		{"jane@localhost", "", ErrInvalidEmail},
		{"jane@acme.com.", "", ErrInvalidEmail},
		{"@acme.com", "", ErrInvalidEmail},
	}
	for _, tc := range testCases {
		got, err := NormalizeEmail(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("NormalizeEmail(%q) err = %v, want %v", tc.in, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("NormalizeEmail(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestClaimRequest_CloneIsDeep(t *testing.T) {
	sent := time.Now()
	c := &ClaimRequest{ID: "c1", HasDomainEmail: BoolPtr(true), LastCodeSentAt: &sent}
	cp := c.Clone()
	*cp.HasDomainEmail = false
	*cp.LastCodeSentAt = sent.Add(time.Hour)
	if !c.DomainAsserted() {
		t.Error("mutating the clone changed HasDomainEmail")
	}
	if !c.LastCodeSentAt.Equal(sent) {
		t.Error("mutating the clone changed LastCodeSentAt")
	}
	var nilClaim *ClaimRequest
	if nilClaim.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
