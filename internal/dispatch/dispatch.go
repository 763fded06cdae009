// Package dispatch turns merge groups into outgoing messages and delivers
// them through a provider, one message per group.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/journal"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

const (
	defaultConcurrency     = 4
	defaultMessageIDDomain = "mailmerge.local"

	// GroupHeader carries the group fingerprint on every message.
	GroupHeader = "X-Mailmerge-Group"
)

// ErrPartialFailure is returned when at least one group failed to send.
var ErrPartialFailure = errors.New("some groups failed to send")

// Recorder persists run and delivery outcomes. *journal.Journal satisfies it.
type Recorder interface {
	StartRun(ctx context.Context, run journal.Run) error
	RecordDelivery(ctx context.Context, d journal.Delivery) (int64, error)
	FinishRun(ctx context.Context, runID string, sent, failed int, finishedAt time.Time) error
}

// Config configures a Dispatcher.
type Config struct {
	Provider provider.Provider
	// Journal is optional.
	Journal Recorder
	Logger  *slog.Logger
	// Concurrency bounds in-flight sends; defaults to 4.
	Concurrency int
	// MessageIDDomain is the right-hand side of generated Message-IDs.
	MessageIDDomain string
}

// Options describe one dispatch.
type Options struct {
	Campaign string
	From     string
	ReplyTo  string
	Headers  map[string]string
	// DryRun builds and journals every message without calling the provider.
	DryRun bool
}

// Result is the outcome for one group.
type Result struct {
	Fingerprint recipient.Fingerprint
	MessageID   string
	Recipients  []string
	Status      string
	Err         error
}

// Report summarizes a dispatch.
type Report struct {
	RunID   string
	Sent    int
	Failed  int
	Skipped int
	Results []Result
}

// Dispatcher sends merge groups through a provider.
type Dispatcher struct {
	provider    provider.Provider
	journal     Recorder
	logger      *slog.Logger
	concurrency int
	domain      string
	now         func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MessageIDDomain == "" {
		cfg.MessageIDDomain = defaultMessageIDDomain
	}
	return &Dispatcher{
		provider:    cfg.Provider,
		journal:     cfg.Journal,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		domain:      cfg.MessageIDDomain,
		now:         time.Now,
	}
}

// Dispatch delivers one message per group. A failed group does not stop the
// others; the report lists every outcome and the error wraps
// ErrPartialFailure when any group failed.
func (d *Dispatcher) Dispatch(ctx context.Context, t *merge.Template, groups []merge.Group, opts Options) (*Report, error) {
	if d.provider == nil && !opts.DryRun {
		return nil, errors.New("dispatch: no provider configured")
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Results: make([]Result, len(groups)),
	}

	if d.journal != nil {
		run := journal.Run{
			ID:        report.RunID,
			Campaign:  opts.Campaign,
			Provider:  d.providerName(),
			DryRun:    opts.DryRun,
			Groups:    len(groups),
			StartedAt: d.now(),
		}
		if err := d.journal.StartRun(ctx, run); err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
	}

	d.logger.Info("dispatch started",
		"run_id", report.RunID,
		"campaign", opts.Campaign,
		"groups", len(groups),
		"provider", d.providerName(),
		"dry_run", opts.DryRun,
	)

	var eg errgroup.Group
	eg.SetLimit(d.concurrency)

	for i := range groups {
		msg := d.Envelope(t, &groups[i], opts)
		eg.Go(func() error {
			report.Results[i] = d.deliver(ctx, report.RunID, &groups[i], msg, opts.DryRun)
			return nil
		})
	}
	_ = eg.Wait()

	for _, r := range report.Results {
		switch r.Status {
		case journal.StatusSent:
			report.Sent++
		case journal.StatusFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	if d.journal != nil {
		// The run outcome is recorded even when ctx was cancelled mid-dispatch.
		if err := d.journal.FinishRun(context.WithoutCancel(ctx), report.RunID, report.Sent, report.Failed, d.now()); err != nil {
			d.logger.Warn("failed to finish journal run", "run_id", report.RunID, "error", err)
		}
	}

	d.logger.Info("dispatch finished",
		"run_id", report.RunID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrPartialFailure, report.Failed, len(groups))
	}
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, runID string, g *merge.Group, msg *email.Email, dryRun bool) Result {
	res := Result{
		Fingerprint: g.Fingerprint,
		MessageID:   msg.MessageID,
		Recipients:  msg.Recipients(),
		Status:      journal.StatusDryRun,
	}

	if !dryRun {
		if err := d.provider.Send(ctx, msg); err != nil {
			res.Status = journal.StatusFailed
			res.Err = err
			d.logger.Error("failed to send group",
				"run_id", runID,
				"fingerprint", g.Fingerprint.String(),
				"recipients", len(res.Recipients),
				"error", err,
			)
		} else {
			res.Status = journal.StatusSent
			d.logger.Info("group sent",
				"run_id", runID,
				"fingerprint", g.Fingerprint.String(),
				"message_id", msg.MessageID,
				"recipients", len(res.Recipients),
			)
		}
	}

	if d.journal != nil {
		entry := journal.Delivery{
			RunID:       runID,
			Fingerprint: g.Fingerprint.String(),
			MessageID:   msg.MessageID,
			Status:      res.Status,
			Recipients:  journalRecipients(g),
			CreatedAt:   d.now(),
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if _, err := d.journal.RecordDelivery(context.WithoutCancel(ctx), entry); err != nil {
			d.logger.Warn("failed to journal delivery", "run_id", runID, "error", err)
		}
	}

	return res
}

// Envelope builds the message for one group: each member is addressed
// through every role it holds, the document is the HTML body and a
// tag-stripped copy is the text alternative.
func (d *Dispatcher) Envelope(t *merge.Template, g *merge.Group, opts Options) *email.Email {
	headers := make(map[string]string, len(opts.Headers)+1)
	maps.Copy(headers, opts.Headers)
	headers[GroupHeader] = g.Fingerprint.String()

	return &email.Email{
		From:        opts.From,
		ReplyTo:     opts.ReplyTo,
		To:          formatted(g.Recipients(recipient.To)),
		Cc:          formatted(g.Recipients(recipient.Cc)),
		Bcc:         formatted(g.Recipients(recipient.Bcc)),
		Subject:     t.Subject,
		HtmlBody:    g.Document,
		TextBody:    PlainText(g.Document),
		Attachments: g.Attachments,
		Headers:     headers,
		MessageID:   uuid.NewString() + "@" + d.domain,
	}
}

func (d *Dispatcher) providerName() string {
	if d.provider == nil {
		return "none"
	}
	return d.provider.Name()
}

// formatted renders each recipient as an RFC 5322 mailbox, quoting the
// nickname so commas and other specials survive.
func formatted(rs []*recipient.Recipient) []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		if r.Nickname() == "" {
			out[i] = r.Address()
			continue
		}
		out[i] = (&mail.Address{Name: r.Nickname(), Address: r.Address()}).String()
	}
	return out
}

func journalRecipients(g *merge.Group) []journal.Recipient {
	var out []journal.Recipient
	for _, m := range g.Members {
		for _, role := range m.Roles {
			out = append(out, journal.Recipient{Address: m.Recipient.Address(), Role: role.String()})
		}
	}
	return out
}

var (
	lineBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</h[1-6]>|</tr>`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	textPolicy = bluemonday.StrictPolicy()
)

// PlainText derives the text alternative of a rendered document.
func PlainText(document string) string {
	s := lineBreaks.ReplaceAllStringFunc(document, func(tag string) string {
		if strings.HasPrefix(strings.ToLower(tag), "<br") {
			return "\n"
		}
		return tag + "\n"
	})
	s = html.UnescapeString(textPolicy.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}
