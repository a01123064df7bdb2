/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the access log
  2. accessLog:  zap "http_request" line + request counter by route pattern
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web UI

ROUTE GROUPS:
  /health, /metrics                      Operations
  /accounts/*                            Accounts, balances, cycles
  /transactions/*                        Transactions
  /invoices/*                            Invoices
  /movimientos_exportables/*             Movements and their change log
  /movimientos_cuenta_facturada/*        Billing sync (X-API-Key)
  /notificaciones                        Inbound notifications

SECURITY NOTE:
  Only the billing sync routes are gated, by a shared API key compared in
  constant time. Ledger and notification routes are expected behind the
  deployment's own auth proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Access log and API key gate
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", APIKeyHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// Account routes
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.ListAccounts)
		r.Post("/", h.CreateAccount)
		r.Get("/balances", h.ListBalances)
		r.Put("/{id}", h.UpdateAccount)
		r.Delete("/{id}", h.DeleteAccount)
		r.Get("/{id}/balance", h.GetBalance)
		r.Get("/{id}/summary", h.GetSummary)
		r.Get("/{id}/transactions", h.GetCycleTransactions)
		r.Post("/{id}/close-cycle", h.CloseCycle)
		r.Get("/{id}/cycles", h.ListCycles)
	})

	// Transaction routes
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.ListTransactions)
		r.Post("/", h.CreateTransaction)
		r.Put("/{id}", h.UpdateTransaction)
		r.Delete("/{id}", h.DeleteTransaction)
	})

	// Invoice routes
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.ListInvoices)
		r.Post("/", h.CreateInvoice)
		r.Put("/{id}", h.UpdateInvoice)
		r.Delete("/{id}", h.DeleteInvoice)
	})

	// Exportable movement routes
	r.Route("/movimientos_exportables", func(r chi.Router) {
		r.Get("/", h.ListMovements)
		r.Post("/", h.CreateMovement)
		r.Put("/{id}", h.UpdateMovement)
		r.Delete("/{id}", h.DeleteMovement)
		r.Get("/cambios", h.ListChanges)
		r.Post("/cambios/ack", h.AcknowledgeChanges)
	})

	// Billing sync routes
	r.Route("/movimientos_cuenta_facturada", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Get("/", h.GetBillingSync)
		r.Post("/", h.AcknowledgeBillingSync)
		r.Get("/movimientos_exportables/cambios", h.ListChanges)
		r.Post("/movimientos_exportables/cambios/ack", h.AcknowledgeChanges)
	})

	// Notification routes
	if h.Inbox != nil {
		r.Get("/notificaciones", h.ListNotifications)
		r.Post("/notificaciones", h.PostNotification)
	}

	return r
}
