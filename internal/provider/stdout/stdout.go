// Package stdout implements a Provider that prints merged messages instead of
// sending them. It backs previews and dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// Provider prints messages to stdout in a human-readable format.
type Provider struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	// html prints the HTML body even when a text alternative exists.
	html bool
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// ShowHTML makes Send print the HTML body rather than the text alternative.
func (p *Provider) ShowHTML(on bool) *Provider {
	p.html = on
	return p
}

// Send prints the message in a readable format. Concurrent sends are
// serialized so blocks never interleave. It fails only when ctx is done.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))

	if len(msg.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", strings.Join(msg.Cc, ", ")))
	}
	if len(msg.Bcc) > 0 {
		b.WriteString(fmt.Sprintf("Bcc: %s\n", strings.Join(msg.Bcc, ", ")))
	}
	if msg.MessageID != "" {
		b.WriteString(fmt.Sprintf("Message-ID: <%s>\n", msg.MessageID))
	}

	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" || p.html && msg.HtmlBody != "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}

	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()

	// A failed write to the terminal is not a failed delivery.
	_, _ = fmt.Fprint(p.writer, b.String())
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
