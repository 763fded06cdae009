// Package resend implements a Provider that sends merged messages through the
// Resend API.
package resend

import (
	"context"
	"fmt"
	"sort"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
)

// Config holds Resend provider configuration.
type Config struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	// Tags are attached to every message for filtering in the Resend dashboard.
	Tags map[string]string
}

// EmailsAPI is the subset of the Resend emails service used by Provider.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends each message with one Resend API call.
type Provider struct {
	emails EmailsAPI
	config Config
}

// New creates a Resend provider.
func New(cfg Config) *Provider {
	return &Provider{
		emails: resend.NewClient(cfg.APIKey).Emails,
		config: cfg,
	}
}

// NewWithClient creates a Provider with a custom emails service, used for testing.
func NewWithClient(cfg Config, emails EmailsAPI) *Provider {
	return &Provider{emails: emails, config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send implements provider.Provider.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if len(msg.Recipients()) == 0 {
		return provider.ErrNoRecipients
	}

	req := &resend.SendEmailRequest{
		From:    p.from(msg),
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
		ReplyTo: msg.ReplyTo,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Headers: p.headers(msg),
	}

	if len(msg.Attachments) > 0 {
		req.Attachments = convertAttachments(msg.Attachments)
	}
	if len(p.config.Tags) > 0 {
		req.Tags = convertTags(p.config.Tags)
	}

	if _, err := p.emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

func (p *Provider) from(msg *email.Email) string {
	if msg.From != "" {
		return msg.From
	}
	if p.config.SenderName != "" {
		return fmt.Sprintf("%s <%s>", p.config.SenderName, p.config.SenderEmail)
	}
	return p.config.SenderEmail
}

// headers merges the Message-ID into the custom headers.
func (p *Provider) headers(msg *email.Email) map[string]string {
	if len(msg.Headers) == 0 && msg.MessageID == "" {
		return nil
	}
	out := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		out[k] = v
	}
	if msg.MessageID != "" {
		out["Message-ID"] = "<" + msg.MessageID + ">"
	}
	return out
}

func convertAttachments(attachments []email.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
	}
	return result
}

// convertTags returns tags sorted by name so requests are reproducible.
func convertTags(tags map[string]string) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		result = append(result, resend.Tag{Name: name, Value: value})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
