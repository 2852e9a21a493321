// Package auth owns the login lifecycle for each debrid provider: the
// device-code, PIN, and implicit OAuth flows, token persistence, and refresh.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

// Controller is the common auth contract the provider clients depend on.
type Controller interface {
	// Provider returns the provider identifier the controller owns.
	Provider() string

	// IsAuthorized reports whether a credential is currently stored.
	IsAuthorized() bool

	// Token returns a valid access token, refreshing transparently when the
	// provider supports it. ErrInvalidToken is returned when no usable
	// token can be produced.
	Token(ctx context.Context) (string, error)

	// Logout revokes the session remotely on a best-effort basis and always
	// clears local state.
	Logout(ctx context.Context) error
}

// LogoutFunc is notified after a controller clears its credential, either
// through an explicit logout or a forced one on a 401.
type LogoutFunc func(provider string)

// Credential is one provider's stored authentication state. It is owned
// exclusively by that provider's controller.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential's access token has an expiry stamp
// in the past. Credentials without a stamp never expire locally.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// credentialBox serializes every read and mutation of one provider's
// credential so concurrent Token calls never observe a torn value, and
// overlapping refreshes collapse into a single network call.
type credentialBox struct {
	store    secrets.Store
	key      string
	provider string

	mu sync.Mutex
	sf singleflight.Group

	now      func() time.Time
	onLogout LogoutFunc
}

func newCredentialBox(store secrets.Store, provider string, onLogout LogoutFunc) *credentialBox {
	return &credentialBox{
		store:    store,
		key:      "debrid/" + provider,
		provider: provider,
		now:      time.Now,
		onLogout: onLogout,
	}
}

// load returns the stored credential, or nil when absent.
func (b *credentialBox) load() (*Credential, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked()
}

func (b *credentialBox) loadLocked() (*Credential, error) {
	data, err := b.store.Get(b.key)
	if errors.Is(err, secrets.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

func (b *credentialBox) save(cred *Credential) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := b.store.Set(b.key, data); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// clear deletes the credential and notifies the logout hook.
func (b *credentialBox) clear() error {
	b.mu.Lock()
	err := b.store.Delete(b.key)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if b.onLogout != nil {
		b.onLogout(b.provider)
	}
	return nil
}

func (b *credentialBox) authorized() bool {
	cred, err := b.load()
	return err == nil && cred != nil && cred.AccessToken != ""
}

// token returns a valid access token, calling refresh through a
// single-flight group when the stored credential has expired. A nil refresh
// func means the provider cannot refresh; expiry then clears local state.
func (b *credentialBox) token(ctx context.Context, refresh func(ctx context.Context, cred *Credential) (*Credential, error)) (string, error) {
	cred, err := b.load()
	if err != nil {
		return "", err
	}
	if cred == nil || cred.AccessToken == "" {
		return "", debrid.ErrInvalidToken
	}
	if !cred.Expired(b.now()) {
		return cred.AccessToken, nil
	}

	if refresh == nil || cred.RefreshToken == "" {
		if err := b.clear(); err != nil {
			return "", err
		}
		return "", debrid.ErrInvalidToken
	}

	v, err, _ := b.sf.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: a previous caller may have already
		// refreshed while this one was queued.
		current, err := b.load()
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, debrid.ErrInvalidToken
		}
		if !current.Expired(b.now()) {
			return current.AccessToken, nil
		}
		renewed, err := refresh(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := b.save(renewed); err != nil {
			return nil, err
		}
		return renewed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// pollUntil runs fn every interval, at most attempts times, observing
// cancellation between attempts. fn returns done=true to stop the loop;
// errors from fn abort immediately. Exhausting the budget yields AuthError.
func pollUntil(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return &debrid.AuthError{Description: "authorization polling timed out"}
}
