package debrid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource supplies bearer tokens for outbound calls and is told to log
// out when the provider rejects one. Satisfied by the auth controllers.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// apiClient is the authenticated HTTP layer shared by the provider adapters.
type apiClient struct {
	http   *http.Client
	auth   TokenSource
	logger *slog.Logger
}

func newAPIClient(auth TokenSource, logger *slog.Logger) *apiClient {
	return &apiClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:   auth,
		logger: logger,
	}
}

// request performs an authenticated call and returns the response body.
// A missing or expired token short-circuits with ErrInvalidToken before any
// network traffic. A 401 forces a logout once, here, before re-throwing.
func (c *apiClient) request(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := endpoint
	var body io.Reader
	if params != nil {
		if method == http.MethodPost {
			body = strings.NewReader(params.Encode())
		} else {
			reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if method == http.MethodPost && params != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("provider rejected token, forcing logout")
		if err := c.auth.Logout(ctx); err != nil {
			c.logger.Error("forced logout failed", "error", err)
		}
		return nil, fmt.Errorf("provider returned 401: %w", ErrInvalidToken)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Status: resp.StatusCode, Description: strings.TrimSpace(string(data))}
	}
	return data, nil
}
