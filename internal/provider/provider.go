// Package provider defines the interface for merged-message delivery backends.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// ErrNoRecipients is returned by providers asked to send a message with an
// empty envelope.
var ErrNoRecipients = errors.New("message has no recipients")

// Provider is the interface that delivery backends must implement. Each
// provider hands one rendered group message to its target service
// (stdout, an SMTP relay, AWS SES, Resend).
type Provider interface {
	// Send delivers a message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
