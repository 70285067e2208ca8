// Package mail renders the claim verification email and hands it to a transport.
package mail

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a sender missing its transport settings.
var ErrNotConfigured = errors.New("mail: sender not configured")

// Vars are the values interpolated into the verification email.
type Vars struct {
	OTP         string
	CompanyName string
	Year        int
	// TTLMinutes is the code lifetime shown to the recipient. Zero renders the default.
	TTLMinutes int
}

// Message is a rendered email ready for a transport.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Dispatcher sends the verification email for a claim.
type Dispatcher interface {
	Send(ctx context.Context, to string, vars Vars) error
}

// Sender delivers a rendered message.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// TemplateDispatcher renders the fixed template and delivers it through Sender.
type TemplateDispatcher struct {
	From   string
	Sender Sender
}

// NewDispatcher returns a Dispatcher sending from the given address.
func NewDispatcher(from string, sender Sender) *TemplateDispatcher {
	return &TemplateDispatcher{From: from, Sender: sender}
}

// Send implements Dispatcher.
func (d *TemplateDispatcher) Send(ctx context.Context, to string, vars Vars) error {
	if d.Sender == nil {
		return ErrNotConfigured
	}
	subject, html := Render(vars)
	return d.Sender.Deliver(ctx, Message{From: d.From, To: to, Subject: subject, HTML: html})
}
