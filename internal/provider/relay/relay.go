// Package relay implements a Provider that submits merged messages to an
// SMTP relay.
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
)

// Security modes for the relay connection.
const (
	SecurityNone     = "none"
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
)

// Authentication mechanisms.
const (
	AuthNone  = ""
	AuthPlain = "plain"
	AuthLogin = "login"
)

const defaultTimeout = 30 * time.Second

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 2

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// ErrUnsupportedSecurity is returned for an unknown Security mode.
var ErrUnsupportedSecurity = errors.New("unsupported relay security mode")

// ErrUnsupportedAuth is returned for an unknown Auth mechanism.
var ErrUnsupportedAuth = errors.New("unsupported relay auth mechanism")

// Config holds the relay connection settings.
type Config struct {
	Host     string
	Port     int
	Security string
	Auth     string
	Username string
	Password string
	Sender   string
	// HeloName is sent in EHLO; defaults to "localhost".
	HeloName           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Provider submits each message over a fresh SMTP session.
type Provider struct {
	cfg        Config
	logger     *slog.Logger
	retryDelay time.Duration
}

// New validates cfg and creates a relay Provider.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Host == "" {
		return nil, errors.New("relay host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("relay port out of range: %d", cfg.Port)
	}
	switch cfg.Security {
	case SecurityNone, SecurityStartTLS, SecurityTLS:
	case "":
		cfg.Security = SecurityStartTLS
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSecurity, cfg.Security)
	}
	cfg.Auth = strings.ToLower(cfg.Auth)
	switch cfg.Auth {
	case AuthNone, AuthPlain, AuthLogin:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuth, cfg.Auth)
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger, retryDelay: baseRetryDelay}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Send opens a session, authenticates when configured, and submits msg to
// every To, Cc and Bcc address.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rcpts, err := email.ParseAddresses(msg.Recipients())
	if err != nil {
		return err
	}
	if len(rcpts) == 0 {
		return provider.ErrNoRecipients
	}
	to := make([]string, len(rcpts))
	for i, a := range rcpts {
		to[i] = a.Address
	}

	sender := msg.From
	if sender == "" {
		sender = p.cfg.Sender
	}
	from, err := email.ParseAddresses([]string{sender})
	if err != nil {
		return err
	}

	raw, err := email.Compose(p.cfg.Sender, msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying relay submission",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, p.retryDelay<<attempt); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		err := p.submit(ctx, from[0].Address, to, raw)
		if err == nil {
			p.logger.Debug("relay accepted message",
				"host", p.cfg.Host,
				"recipients", len(to),
				"size", len(raw),
			)
			return nil
		}

		sendErr := classifyError(err)
		if !sendErr.transient {
			return sendErr
		}
		lastErr = sendErr
		p.logger.Warn("relay error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("relay submission failed after %d retries: %w", maxRetries, lastErr)
}

// submit runs one SMTP session.
func (p *Provider) submit(ctx context.Context, from string, to []string, raw []byte) error {
	c, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer c.Close()

	c.CommandTimeout = p.cfg.Timeout
	c.SubmissionTimeout = p.cfg.Timeout

	// After STARTTLS the session starts over, so EHLO carries HeloName on
	// every security mode.
	if err := c.Hello(p.cfg.HeloName); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if auth := p.saslClient(); auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("relay authentication failed: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("relay rejected message: %w", err)
	}

	if err := c.Quit(); err != nil {
		p.logger.Debug("relay QUIT failed", "error", err)
	}
	return nil
}

// sendError classifies a failed submission for retry decisions.
type sendError struct {
	code      int
	transient bool
	err       error
}

func (e *sendError) Error() string {
	if e.code != 0 {
		return fmt.Sprintf("SMTP relay error (code %d): %v", e.code, e.err)
	}
	return fmt.Sprintf("SMTP relay error: %v", e.err)
}

func (e *sendError) Unwrap() error {
	return e.err
}

// classifyError treats 4xx replies and network failures as transient and
// 5xx replies, auth failures and cancellation as permanent.
func classifyError(err error) *sendError {
	e := &sendError{err: err}

	var smtpErr *smtp.SMTPError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.As(err, &smtpErr):
		e.code = smtpErr.Code
		e.transient = smtpErr.Code >= 400 && smtpErr.Code < 500
	case errors.As(err, &netErr):
		e.transient = true
	}
	return e
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Provider) addr() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

func (p *Provider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
	}
}

// dial connects to the relay. For starttls the connection is upgraded before
// returning; the pre-TLS greeting uses go-smtp's default name.
func (p *Provider) dial(ctx context.Context) (*smtp.Client, error) {
	d := &net.Dialer{Timeout: p.cfg.Timeout}

	switch p.cfg.Security {
	case SecurityTLS:
		td := &tls.Dialer{NetDialer: d, Config: p.tlsConfig()}
		conn, err := td.DialContext(ctx, "tcp", p.addr())
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn), nil
	case SecurityStartTLS:
		conn, err := d.DialContext(ctx, "tcp", p.addr())
		if err != nil {
			return nil, err
		}
		c, err := smtp.NewClientStartTLS(conn, p.tlsConfig())
		if err != nil {
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
		return c, nil
	default:
		conn, err := d.DialContext(ctx, "tcp", p.addr())
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn), nil
	}
}

func (p *Provider) saslClient() sasl.Client {
	switch p.cfg.Auth {
	case AuthPlain:
		return sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
	case AuthLogin:
		return sasl.NewLoginClient(p.cfg.Username, p.cfg.Password)
	default:
		return nil
	}
}
