package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
)

// Config holds the configuration for creating a Graph Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the messages are sent from.
	Sender string
	// SaveToSentItems keeps a copy of every merged message in the sender's
	// Sent Items folder.
	SaveToSentItems bool
}

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type Provider struct {
	sender     string
	saveToSent bool
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
	retryDelay time.Duration
}

// New creates a new Graph Provider with the given configuration.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		sender:     cfg.Sender,
		saveToSent: cfg.SaveToSentItems,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: baseRetryDelay,
	}
}

// Send delivers an email message via the Microsoft Graph API.
// It includes retry logic with exponential backoff for transient failures,
// Retry-After header respect for HTTP 429, and automatic token refresh for HTTP 401.
func (g *Provider) Send(ctx context.Context, msg *email.Email) error {
	if len(msg.Recipients()) == 0 {
		return provider.ErrNoRecipients
	}

	reqBody, err := buildSendMailRequest(g.sender, msg, g.saveToSent)
	if err != nil {
		return fmt.Errorf("failed to build Graph request: %w", err)
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
				"message_id", msg.MessageID,
			)
		}

		err := g.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return nil
		}

		lastErr = err

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			// Refresh token once and retry immediately
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.token.ForceRefresh(ctx); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := g.retryAfterDelay(graphErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		case graphErr.transient:
			delay := backoffDelay(g.retryDelay, attempt)
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		default:
			return graphErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Provider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError represents an error from the Graph API send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the appropriate delay.
// Falls back to exponential backoff if the header is missing or unparseable.
func (g *Provider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(g.retryDelay, attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(g.retryDelay, attempt)
}

// backoffDelay doubles base for every attempt: 1s, 2s, 4s with the default.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
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
