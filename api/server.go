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
  /api/books/*       Catalog management
  /api/members/*     Member management
  /api/borrowings/*  Loan ledger
  /api/penalties/*   Penalty ledger
  /api/stats/*       Dashboard projections
  /api/admin/*       Sweep, recount, seed, reset

SECURITY NOTE:
  No authentication middleware. All endpoints are public; the
  Authorization bearer is an opaque pass-through for staff attribution.

SEE ALSO:
  - handlers.go: Handler implementations
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Catalog routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)
			r.Get("/genres", h.ListGenres)
			r.Get("/{id}", h.GetBook)
			r.Put("/{id}", h.UpdateBook)
			r.Delete("/{id}", h.DeleteBook)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
			r.Put("/{id}", h.UpdateMember)
			r.Delete("/{id}", h.DeleteMember)
			r.Get("/{id}/statistics", h.GetMemberStatistics)
		})

		// Loan ledger routes
		r.Route("/borrowings", func(r chi.Router) {
			r.Get("/", h.ListBorrowings)
			r.Post("/", h.IssueLoan)
			r.Get("/late", h.ListLateBorrowings)
			r.Put("/{id}/return", h.ReturnLoan)
			r.Put("/{id}/lost", h.MarkLoanLost)
		})

		// Penalty ledger routes
		r.Route("/penalties", func(r chi.Router) {
			r.Get("/", h.ListPenalties)
			r.Post("/", h.CreatePenalty)
			r.Put("/{id}/pay", h.PayPenalty)
			r.Put("/{id}/waive", h.WaivePenalty)
		})

		// Statistics routes
		r.Route("/stats", func(r chi.Router) {
			r.Get("/", h.GetStats)
			r.Get("/popular-books", h.GetPopularBooks)
			r.Get("/active-members", h.GetActiveMembers)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/recount", h.TriggerRecount)
			r.Post("/seed", h.SeedDemoData)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Library Circulation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Library Circulation Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/books">/api/books</a> - Catalog</li>
<li><a href="/api/members">/api/members</a> - Members</li>
<li><a href="/api/borrowings">/api/borrowings</a> - Loan ledger</li>
<li><a href="/api/penalties">/api/penalties</a> - Penalty ledger</li>
<li><a href="/api/stats">/api/stats</a> - Dashboard</li>
</ul>
</body>
</html>`))
	})

	return r
}
