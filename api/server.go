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
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*       Accounts, balances, payer links
  /api/categories/*  Product categories
  /api/products/*    Catalog
  /api/freeitems/*   Giveaway stock
  /api/purchases/*   Line items
  /api/payments/*    Deposits
  /api/invoices/*    Billing runs and invoice management
  /api/admin/*       Reminders, backfill, exports, seed
  /api/stats/*       Consumption rankings

SECURITY NOTE:
  No authentication middleware. All endpoints are public; run behind a
  trusted network or a reverse proxy that handles auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Put("/{id}/payer", h.SetPayer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/topay", h.GetToPay)
			r.Get("/{id}/can-purchase", h.CanPurchase)
			r.Get("/{id}/invoices", h.ListUserInvoices)
			r.Get("/{id}/purchases", h.ListUserPurchases)
			r.Get("/{id}/payments", h.ListUserPayments)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
			r.Post("/batch", h.BatchUpdateProducts)
		})

		r.Route("/freeitems", func(r chi.Router) {
			r.Get("/", h.ListFreeItems)
			r.Post("/", h.CreateFreeItem)
			r.Post("/{id}/purchase", h.PurchaseFreeItem)
		})
		r.Post("/giveaway", h.GiveAway)

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Put("/{id}", h.UpdatePurchase)
			r.Delete("/{id}", h.DeletePurchase)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Put("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/run", h.RunBilling)
			r.Get("/{id}", h.GetInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reminders", h.SendReminders)
			r.Post("/payments/backfill", h.BackfillPaymentInvoices)
			r.Get("/export/users", h.ExportUsers)
			r.Get("/export/purchases", h.ExportPurchases)
			r.Get("/export/payments", h.ExportPayments)
			r.Post("/seed", h.SeedDemoData)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/top-users", h.TopUsers)
			r.Get("/top-products", h.TopProducts)
			r.Get("/top-categories", h.TopCategories)
		})
	})

	return r
}
