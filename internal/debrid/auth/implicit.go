package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

const (
	premiumizeAuthorizeURL = "https://www.premiumize.me/authorize"

	// Client id registered for embedded-view authorization.
	premiumizeClientID = "708046036"
)

// ImplicitController drives Premiumize's implicit OAuth flow: the caller
// opens AuthorizationURL in an embedded web view and hands the resulting
// redirect URL back to Complete. No refresh token exists.
type ImplicitController struct {
	box      *credentialBox
	logger   *slog.Logger
	clientID string
}

// NewImplicitController creates the Premiumize auth controller.
func NewImplicitController(store secrets.Store, onLogout LogoutFunc, logger *slog.Logger) *ImplicitController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImplicitController{
		box:      newCredentialBox(store, "premiumize", onLogout),
		logger:   logger.With("component", "auth", "provider", "premiumize"),
		clientID: premiumizeClientID,
	}
}

func (c *ImplicitController) Provider() string { return "premiumize" }

func (c *ImplicitController) IsAuthorized() bool { return c.box.authorized() }

// AuthorizationURL returns the URL to open in the embedded web view.
func (c *ImplicitController) AuthorizationURL() string {
	return fmt.Sprintf("%s?client_id=%s&response_type=token", premiumizeAuthorizeURL, url.QueryEscape(c.clientID))
}

// Complete extracts the access token from the redirect URL's fragment and
// stores it.
func (c *ImplicitController) Complete(redirectURL string) error {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return fmt.Errorf("%w: %s", debrid.ErrInvalidURL, redirectURL)
	}
	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return fmt.Errorf("%w: redirect fragment", debrid.ErrInvalidURL)
	}
	token := fragment.Get("access_token")
	if token == "" {
		return &debrid.AuthError{Description: "redirect url carries no access_token"}
	}
	if err := c.box.save(&Credential{AccessToken: token}); err != nil {
		return err
	}
	c.logger.Info("implicit authorization complete")
	return nil
}

// Token returns the stored access token. There is no refresh path.
func (c *ImplicitController) Token(ctx context.Context) (string, error) {
	return c.box.token(ctx, nil)
}

// Logout clears local state; the implicit grant has nothing to revoke
// remotely.
func (c *ImplicitController) Logout(ctx context.Context) error {
	return c.box.clear()
}
