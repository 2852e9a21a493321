package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes builds the REST router with the bearer middleware applied to
// every /api/v1 route.
func SetupRoutes(h *Handler, jwtSecret string) http.Handler {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(AuthMiddleware(jwtSecret))

	v1.HandleFunc("/providers", h.ListProviders).Methods(http.MethodGet)
	v1.HandleFunc("/providers/active", h.SetActiveProvider).Methods(http.MethodPut)

	v1.HandleFunc("/auth/{provider}/status", h.AuthStatus).Methods(http.MethodGet)
	v1.HandleFunc("/auth/{provider}/begin", h.BeginAuth).Methods(http.MethodPost)
	v1.HandleFunc("/auth/{provider}/complete", h.CompleteAuth).Methods(http.MethodPost)
	v1.HandleFunc("/auth/{provider}/logout", h.Logout).Methods(http.MethodPost)

	v1.HandleFunc("/availability", h.CheckAvailability).Methods(http.MethodPost)
	v1.HandleFunc("/resolve", h.ResolveDownload).Methods(http.MethodPost)
	v1.HandleFunc("/history", h.ListHistory).Methods(http.MethodGet)

	return router
}
