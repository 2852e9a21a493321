package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

const (
	allDebridAPIURL = "https://api.alldebrid.com/v4"
	allDebridAgent  = "DebridArr"

	pinPollInterval = 5 * time.Second
	// ~60s total.
	pinPollAttempts = 12
)

// PinAuth is the cancellable handle returned by Begin. The caller shows PIN
// and UserURL to the user, then waits on Done.
type PinAuth struct {
	PIN     string
	UserURL string
	Done    <-chan error
	Cancel  context.CancelFunc
}

// PinController drives AllDebrid's PIN flow. The resulting API key has no
// refresh token; expiry or a 401 means authenticating from scratch.
type PinController struct {
	box    *credentialBox
	http   *http.Client
	logger *slog.Logger
	apiURL string

	pollInterval time.Duration
	pollAttempts int
}

// NewPinController creates the AllDebrid auth controller.
func NewPinController(store secrets.Store, onLogout LogoutFunc, logger *slog.Logger) *PinController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PinController{
		box:          newCredentialBox(store, "alldebrid", onLogout),
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With("component", "auth", "provider", "alldebrid"),
		apiURL:       allDebridAPIURL,
		pollInterval: pinPollInterval,
		pollAttempts: pinPollAttempts,
	}
}

func (c *PinController) Provider() string { return "alldebrid" }

func (c *PinController) IsAuthorized() bool { return c.box.authorized() }

// AllDebrid wraps every payload in a status/data envelope.
type allDebridEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type pinGetData struct {
	PIN       string `json:"pin"`
	Check     string `json:"check"`
	ExpiresIn int    `json:"expires_in"`
	UserURL   string `json:"user_url"`
	CheckURL  string `json:"check_url"`
}

type pinCheckData struct {
	Activated bool   `json:"activated"`
	APIKey    string `json:"apikey"`
}

// Begin requests a PIN and starts the background check poll.
func (c *PinController) Begin(ctx context.Context) (*PinAuth, error) {
	endpoint := fmt.Sprintf("%s/pin/get?agent=%s", c.apiURL, url.QueryEscape(allDebridAgent))
	var data pinGetData
	if err := c.get(ctx, endpoint, &data); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)

	go func() {
		err := pollUntil(pollCtx, c.pollInterval, c.pollAttempts, func(ctx context.Context) (bool, error) {
			checkEndpoint := fmt.Sprintf("%s/pin/check?agent=%s&check=%s&pin=%s",
				c.apiURL, url.QueryEscape(allDebridAgent), url.QueryEscape(data.Check), url.QueryEscape(data.PIN))
			var check pinCheckData
			if err := c.get(ctx, checkEndpoint, &check); err != nil {
				// Pending activation and transient failures both read as
				// "not yet".
				return false, nil
			}
			if !check.Activated || check.APIKey == "" {
				return false, nil
			}
			return true, c.box.save(&Credential{AccessToken: check.APIKey})
		})
		if err != nil {
			c.logger.Warn("pin authorization did not complete", "error", err)
		} else {
			c.logger.Info("pin authorization complete")
		}
		done <- err
	}()

	return &PinAuth{
		PIN:     data.PIN,
		UserURL: data.UserURL,
		Done:    done,
		Cancel:  cancel,
	}, nil
}

// Token returns the stored API key. There is no refresh path.
func (c *PinController) Token(ctx context.Context) (string, error) {
	return c.box.token(ctx, nil)
}

// Logout clears local state. AllDebrid has no remote revoke for PIN keys.
func (c *PinController) Logout(ctx context.Context) error {
	return c.box.clear()
}

func (c *PinController) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &debrid.RequestError{Status: resp.StatusCode, Description: string(body)}
	}
	var envelope allDebridEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: alldebrid envelope", debrid.ErrInvalidResponse)
	}
	if envelope.Status != "success" {
		msg := "alldebrid error"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return &debrid.AuthError{Description: msg}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: alldebrid data", debrid.ErrInvalidResponse)
	}
	return nil
}
