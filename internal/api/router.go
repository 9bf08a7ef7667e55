// Package api serves entitlement decisions over HTTP.
package api

import (
	"net/http"

	"github.com/LaTars4444/laeoutreach/internal/gate"
)

// Router handles HTTP routing
type Router struct {
	mux      *http.ServeMux
	handlers *EntitlementHandlers
	version  string
}

// NewRouter creates the API handler.
func NewRouter(g *gate.Gate, accounts gate.AccountSource, version string) http.Handler {
	r := &Router{
		mux:      http.NewServeMux(),
		handlers: NewEntitlementHandlers(g, accounts),
		version:  version,
	}
	r.setupRoutes()
	return withRequestContext(r.mux)
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /api/health", r.handleHealth)
	r.mux.HandleFunc("GET /api/version", r.handleVersion)
	r.mux.HandleFunc("GET /api/policy", r.handlers.HandlePolicy)
	r.mux.HandleFunc("GET /api/accounts/{id}/entitlements", r.handlers.HandleEntitlements)
	r.mux.HandleFunc("GET /api/accounts/{id}/entitlements/{capability}", r.handlers.HandleCapability)
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": r.version})
}
