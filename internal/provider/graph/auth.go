package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
// This prevents using a token that is about to expire during a request.
const tokenExpiryBuffer = 5 * time.Minute

const defaultScope = "https://graph.microsoft.com/.default"

// ErrTokenRequest is returned when the token endpoint refuses or garbles a
// client credentials grant.
var ErrTokenRequest = errors.New("graph token request failed")

// tokenCache manages OAuth2 access tokens for every concurrent send of a
// campaign. One refresh is in flight at a time.
type tokenCache struct {
	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	now          func() time.Time
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        defaultScope,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it if necessary.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.accessToken != "" && tc.now().Before(tc.expiresAt) {
		return tc.accessToken, nil
	}

	return tc.refresh(ctx)
}

// ForceRefresh discards the current token and acquires a new one.
// This is used when a 401 response indicates the token is invalid.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}

	return tc.refresh(ctx)
}

// refresh acquires a new token from the OAuth2 token endpoint.
// The caller must hold tc.mu.
func (tc *tokenCache) refresh(ctx context.Context) (string, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tc.clientID},
		"client_secret": {tc.clientSecret},
		"scope":         {tc.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: endpoint returned %d: %s", ErrTokenRequest, resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRequest, err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrTokenRequest)
	}

	tc.accessToken = tokenResp.AccessToken
	tc.expiresAt = tc.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpiryBuffer)

	return tc.accessToken, nil
}
