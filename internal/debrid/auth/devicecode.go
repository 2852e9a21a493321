package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

const (
	realDebridOAuthURL = "https://api.real-debrid.com/oauth/v2"

	// Open-source client id published by Real-Debrid for device auth.
	realDebridClientID = "X245A4XAIBGVM"

	deviceGrantType = "http://oauth.net/grant_type/device/1.0"

	// ~100s total at the default 5s interval.
	devicePollAttempts = 20
)

// DeviceAuth is the cancellable handle returned by Begin. The caller shows
// UserCode and VerificationURL to the user, then waits on Done.
type DeviceAuth struct {
	UserCode        string
	VerificationURL string

	// Done yields nil once the controller is authorized, or the terminal
	// error (timeout, cancellation).
	Done <-chan error

	// Cancel stops the background poll. No token mutation happens after
	// cancellation is observed.
	Cancel context.CancelFunc
}

// DeviceCodeController drives Real-Debrid's device-code OAuth flow.
type DeviceCodeController struct {
	box      *credentialBox
	http     *http.Client
	logger   *slog.Logger
	oauthURL string
	clientID string

	// pollInterval overrides the server-suggested interval when non-zero.
	pollInterval time.Duration
}

// NewDeviceCodeController creates the Real-Debrid auth controller.
func NewDeviceCodeController(store secrets.Store, onLogout LogoutFunc, logger *slog.Logger) *DeviceCodeController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceCodeController{
		box:      newCredentialBox(store, "realdebrid", onLogout),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "auth", "provider", "realdebrid"),
		oauthURL: realDebridOAuthURL,
		clientID: realDebridClientID,
	}
}

func (c *DeviceCodeController) Provider() string { return "realdebrid" }

func (c *DeviceCodeController) IsAuthorized() bool { return c.box.authorized() }

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
	VerificationURL string `json:"verification_url"`
}

type deviceCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Begin requests a device code and starts the background credential poll.
// The verification URL is returned immediately; completion is reported
// through the handle's Done channel.
func (c *DeviceCodeController) Begin(ctx context.Context) (*DeviceAuth, error) {
	code, err := c.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(code.Interval) * time.Second
	if c.pollInterval > 0 {
		interval = c.pollInterval
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)

	go func() {
		err := pollUntil(pollCtx, interval, devicePollAttempts, func(ctx context.Context) (bool, error) {
			creds, ok := c.fetchCredentials(ctx, code.DeviceCode)
			if !ok {
				// Not authorized yet; decode failures are not fatal to
				// the loop.
				return false, nil
			}
			if err := c.exchange(ctx, creds, code.DeviceCode); err != nil {
				return false, err
			}
			return true, nil
		})
		if err != nil {
			c.logger.Warn("device authorization did not complete", "error", err)
		} else {
			c.logger.Info("device authorization complete")
		}
		done <- err
	}()

	return &DeviceAuth{
		UserCode:        code.UserCode,
		VerificationURL: code.VerificationURL,
		Done:            done,
		Cancel:          cancel,
	}, nil
}

func (c *DeviceCodeController) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	endpoint := fmt.Sprintf("%s/device/code?client_id=%s&new_credentials=yes", c.oauthURL, url.QueryEscape(c.clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create device code request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &debrid.RequestError{Status: resp.StatusCode, Description: string(body)}
	}
	var code deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return nil, fmt.Errorf("%w: device code payload", debrid.ErrInvalidResponse)
	}
	return &code, nil
}

// fetchCredentials asks the credential-exchange endpoint once. Any failure
// (pending authorization, decode error) reads as "not yet".
func (c *DeviceCodeController) fetchCredentials(ctx context.Context, deviceCode string) (*deviceCredentials, bool) {
	endpoint := fmt.Sprintf("%s/device/credentials?client_id=%s&code=%s",
		c.oauthURL, url.QueryEscape(c.clientID), url.QueryEscape(deviceCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var creds deviceCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, false
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, false
	}
	return &creds, true
}

// exchange trades the bound client id/secret for tokens and persists the
// resulting credential.
func (c *DeviceCodeController) exchange(ctx context.Context, creds *deviceCredentials, deviceCode string) error {
	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("code", deviceCode)
	form.Set("grant_type", deviceGrantType)

	token, err := c.requestToken(ctx, form)
	if err != nil {
		return err
	}

	return c.box.save(&Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		ExpiresAt:    c.box.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	})
}

func (c *DeviceCodeController) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &debrid.RequestError{Status: resp.StatusCode, Description: string(body)}
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%w: token payload", debrid.ErrInvalidResponse)
	}
	return &token, nil
}

// Token returns a valid access token, refreshing with the stored refresh
// token once the expiry stamp has passed. Overlapping callers share one
// refresh.
func (c *DeviceCodeController) Token(ctx context.Context) (string, error) {
	return c.box.token(ctx, func(ctx context.Context, cred *Credential) (*Credential, error) {
		form := url.Values{}
		form.Set("client_id", cred.ClientID)
		form.Set("client_secret", cred.ClientSecret)
		form.Set("code", cred.RefreshToken)
		form.Set("grant_type", deviceGrantType)

		token, err := c.requestToken(ctx, form)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("access token refreshed")
		renewed := *cred
		renewed.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			renewed.RefreshToken = token.RefreshToken
		}
		renewed.ExpiresAt = c.box.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		return &renewed, nil
	})
}

// Logout disables the remote token on a best-effort basis and always clears
// local state.
func (c *DeviceCodeController) Logout(ctx context.Context) error {
	if cred, err := c.box.load(); err == nil && cred != nil && cred.AccessToken != "" {
		endpoint := strings.Replace(c.oauthURL, "/oauth/v2", "/rest/1.0", 1) + "/disable_access_token"
		if req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil); err == nil {
			req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
			if resp, err := c.http.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	return c.box.clear()
}
