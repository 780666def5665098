/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/cards/*          Card minting
  /api/sales/*          Sale listings, purchases, exchange proposals
  /api/proposals/*      Proposal decisions (cancel/accept/reject)
  /api/points/*         Random point reward claims
  /api/notifications/*  Notification reads, cursors, and the SSE stream

SEE ALSO:
  - handlers.go: Handler implementations
  - stream.go: SSE notification stream
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Card minting
		r.Route("/cards", func(r chi.Router) {
			r.Post("/", h.Mint)
		})

		// Sale listings and the operations hanging off them
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateListing)
			r.Delete("/{id}", h.CancelListing)
			r.Post("/{id}/buy", h.Buy)
			r.Post("/{id}/proposals", h.Propose)
		})

		// Proposal decisions
		r.Route("/proposals", func(r chi.Router) {
			r.Delete("/{id}", h.CancelProposal)
			r.Post("/{id}/accept", h.AcceptProposal)
			r.Post("/{id}/reject", h.RejectProposal)
		})

		// Random point rewards
		r.Route("/points", func(r chi.Router) {
			r.Post("/claim", h.ClaimReward)
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Get("/unread-count", h.UnreadCount)
			r.Get("/stream", h.Stream)
			r.Patch("/{id}/read", h.MarkRead)
			r.Post("/read-all", h.MarkAllRead)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
