// Package api exposes the debrid core over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Zerr0-C00L/DebridArr/internal/database"
	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/debrid/auth"
	"github.com/Zerr0-C00L/DebridArr/internal/models"
	"github.com/Zerr0-C00L/DebridArr/internal/resolver"
)

const activeProviderKey = "active_provider"

// Provider bundles one debrid service's client with its auth controller.
type Provider struct {
	Client debrid.Client
	Auth   auth.Controller
}

// Handler serves the REST API.
type Handler struct {
	providers    map[string]Provider
	availability *resolver.AvailabilityResolver
	downloads    *resolver.DownloadResolver
	settings     *database.SettingsStore
	history      *database.HistoryStore
	logger       *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	providers map[string]Provider,
	availability *resolver.AvailabilityResolver,
	downloads *resolver.DownloadResolver,
	settings *database.SettingsStore,
	history *database.HistoryStore,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		providers:    providers,
		availability: availability,
		downloads:    downloads,
		settings:     settings,
		history:      history,
		logger:       logger.With("component", "api"),
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// writeResolutionError maps core errors onto HTTP statuses.
func (h *Handler) writeResolutionError(w http.ResponseWriter, err error) {
	var (
		selErr *resolver.FileSelectionError
		reqErr *debrid.RequestError
	)
	switch {
	case errors.As(err, &selErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "file selection required",
			"record": selErr.Record,
		})
	case errors.Is(err, resolver.ErrResolutionInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, debrid.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "provider authentication required")
	case errors.As(err, &reqErr):
		respondError(w, http.StatusBadGateway, reqErr.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) provider(r *http.Request) (Provider, string, bool) {
	name := mux.Vars(r)["provider"]
	p, ok := h.providers[name]
	return p, name, ok
}

// activeProvider resolves the provider the settings store marks active.
func (h *Handler) activeProvider(ctx context.Context) (Provider, error) {
	name, err := h.settings.Get(ctx, activeProviderKey)
	if errors.Is(err, database.ErrSettingNotFound) {
		return Provider{}, errors.New("no active provider configured")
	}
	if err != nil {
		return Provider{}, err
	}
	p, ok := h.providers[name]
	if !ok {
		return Provider{}, errors.New("unknown active provider " + name)
	}
	return p, nil
}

// ListProviders reports every provider and its authorization state.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	active, _ := h.settings.Get(r.Context(), activeProviderKey)

	type providerInfo struct {
		Name       string `json:"name"`
		Authorized bool   `json:"authorized"`
		Active     bool   `json:"active"`
	}
	out := make([]providerInfo, 0, len(h.providers))
	for name, p := range h.providers {
		out = append(out, providerInfo{
			Name:       name,
			Authorized: p.Auth.IsAuthorized(),
			Active:     name == active,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// SetActiveProvider stores which provider availability and downloads use.
func (h *Handler) SetActiveProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := h.providers[body.Provider]; !ok {
		respondError(w, http.StatusNotFound, "unknown provider "+body.Provider)
		return
	}
	if err := h.settings.Set(r.Context(), activeProviderKey, body.Provider); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"active": body.Provider})
}

// BeginAuth starts the provider's login flow. Device-code and PIN flows
// return the code the user has to enter and keep polling in the background;
// the implicit flow returns the URL to open in an embedded web view.
func (h *Handler) BeginAuth(w http.ResponseWriter, r *http.Request) {
	p, name, ok := h.provider(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}

	switch ctrl := p.Auth.(type) {
	case *auth.DeviceCodeController:
		handle, err := ctrl.Begin(r.Context())
		if err != nil {
			h.writeResolutionError(w, err)
			return
		}
		go h.watchAuth(name, handle.Done)
		respondJSON(w, http.StatusAccepted, map[string]string{
			"user_code":        handle.UserCode,
			"verification_url": handle.VerificationURL,
		})
	case *auth.PinController:
		handle, err := ctrl.Begin(r.Context())
		if err != nil {
			h.writeResolutionError(w, err)
			return
		}
		go h.watchAuth(name, handle.Done)
		respondJSON(w, http.StatusAccepted, map[string]string{
			"pin":      handle.PIN,
			"user_url": handle.UserURL,
		})
	case *auth.ImplicitController:
		respondJSON(w, http.StatusOK, map[string]string{
			"authorization_url": ctrl.AuthorizationURL(),
		})
	default:
		respondError(w, http.StatusNotImplemented, "provider has no interactive flow")
	}
}

func (h *Handler) watchAuth(provider string, done <-chan error) {
	if err := <-done; err != nil {
		h.logger.Warn("authorization flow ended", "provider", provider, "error", err)
	}
}

// CompleteAuth finishes the implicit flow with the redirect URL captured by
// the embedded web view.
func (h *Handler) CompleteAuth(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.provider(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	ctrl, ok := p.Auth.(*auth.ImplicitController)
	if !ok {
		respondError(w, http.StatusNotImplemented, "provider does not complete via redirect")
		return
	}

	var body struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ctrl.Complete(body.RedirectURL); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"authorized": true})
}

// AuthStatus reports whether the provider currently holds a credential.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	p, name, ok := h.provider(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider":   name,
		"authorized": p.Auth.IsAuthorized(),
	})
}

// Logout clears the provider's credential.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, _, ok := h.provider(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	if err := p.Auth.Logout(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"authorized": false})
}

// CheckAvailability runs one availability pass for the posted magnets
// against the active provider and returns records plus display statuses.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Magnets []models.Magnet `json:"magnets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.activeProvider(r.Context())
	if err != nil {
		respondError(w, http.StatusPreconditionFailed, err.Error())
		return
	}

	records, err := h.availability.Resolve(r.Context(), p.Client, body.Magnets)
	if err != nil {
		h.writeResolutionError(w, err)
		return
	}

	statuses := make(map[string]models.Status, len(body.Magnets))
	for _, m := range body.Magnets {
		if m.Hash != "" {
			statuses[m.Hash] = h.availability.Status(m.Hash)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records":  records,
		"statuses": statuses,
	})
}

// ResolveDownload drives the active provider's flow for one selected magnet.
func (h *Handler) ResolveDownload(w http.ResponseWriter, r *http.Request) {
	var req models.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Magnet.Hash == "" {
		respondError(w, http.StatusBadRequest, "magnet hash is required")
		return
	}

	p, err := h.activeProvider(r.Context())
	if err != nil {
		respondError(w, http.StatusPreconditionFailed, err.Error())
		return
	}

	result, err := h.downloads.Resolve(r.Context(), p.Client, req)
	if err != nil {
		h.writeResolutionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListHistory returns recent completed downloads.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.List(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
