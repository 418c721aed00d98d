// Package api provides the HTTP control surface for the monitor: worker
// status queries, start/stop/restart, target state projections, and the
// audit event log. The browser UI consumes this API; the API itself carries
// no UI.
package api

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the configured chi.Router.
//
// Route layout:
//
//	GET  /healthz                           – liveness probe (no auth)
//	GET  /api/v1/instances                  – all worker statuses
//	GET  /api/v1/instances/{id}             – one instance + worker status
//	POST /api/v1/instances/{id}/start       – start the worker
//	POST /api/v1/instances/{id}/stop        – stop the worker
//	POST /api/v1/instances/{id}/restart     – restart the worker
//	GET  /api/v1/instances/{id}/targets     – target state projection
//	GET  /api/v1/instances/{id}/events      – audit event log (paginated)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes. Pass nil to disable authentication (tests, dev mode).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/instances", srv.handleListInstances)
		r.Route("/instances/{id}", func(r chi.Router) {
			r.Get("/", srv.handleGetInstance)
			r.Post("/start", srv.handleStart)
			r.Post("/stop", srv.handleStop)
			r.Post("/restart", srv.handleRestart)
			r.Get("/targets", srv.handleListTargets)
			r.Get("/events", srv.handleListEvents)
		})
	})

	return r
}
