/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request context deadline
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/health           Liveness and storage check
  /api/stores/*         Store master data, balances, low stock
  /api/products/*       Product master data
  /api/movements/*      Inbound and outbound
  /api/transactions/*   History and cancellation
  /api/adjustments/*    Adjustment workflow
  /api/stocktakes/*     Stock take workflow
  /api/snapshots/*      Daily rollup
  /api/exports/*        Workbook download
  /api/audit            Audit trail
  /api/channel/*        Chat channel movements (when configured)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RequestTimeout bounds every request's context.
const RequestTimeout = 60 * time.Second

// NewRouter creates a new router with all routes configured. origins lists
// the CORS origins allowed to call the API.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"X-Operator-ID", "X-Operator-Name", "X-Operator-Role",
		},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.ListStores)
			r.Post("/", h.CreateStore)
			r.Get("/{id}", h.GetStore)
			r.Put("/{id}", h.UpdateStore)
			r.Delete("/{id}", h.DeactivateStore)
			r.Get("/{id}/balances", h.ListStoreBalances)
			r.Get("/{id}/balances/{productID}", h.GetBalance)
			r.Get("/{id}/low-stock", h.LowStock)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/sku/{sku}", h.GetProductBySKU)
			r.Get("/barcode/{code}", h.GetProductByBarcode)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeactivateProduct)
		})

		r.Route("/movements", func(r chi.Router) {
			r.Post("/inbound", h.Inbound)
			r.Post("/outbound", h.Outbound)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/recent", h.RecentTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/cancel", h.CancelTransaction)
		})

		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.ListAdjustments)
			r.Post("/", h.CreateAdjustment)
			r.Get("/{id}", h.GetAdjustment)
			r.Post("/{id}/approve", h.ApproveAdjustment)
			r.Post("/{id}/reject", h.RejectAdjustment)
		})

		r.Route("/stocktakes", func(r chi.Router) {
			r.Get("/", h.ListStockTakes)
			r.Post("/", h.CreateStockTake)
			r.Get("/{id}", h.GetStockTake)
			r.Post("/{id}/complete", h.CompleteStockTake)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.ListSnapshots)
			r.Post("/recompute", h.RecomputeSnapshots)
		})

		r.Get("/low-stock", h.LowStockAll)
		r.Get("/exports/workbook", h.ExportWorkbook)
		r.Get("/audit", h.ListAudit)

		if h.Channel != nil {
			r.Route("/channel", func(r chi.Router) {
				r.Post("/select", h.ChannelSelect)
				r.Post("/search", h.ChannelSearch)
				r.Post("/inbound", h.ChannelInbound)
				r.Post("/outbound", h.ChannelOutbound)
			})
		}

		if h.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/loaded", h.LoadedScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
