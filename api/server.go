/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request log (logrus)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/users/*          Users, balances, movements
  /api/stock/*          Stock pools
  /api/advances/*       Supplier advance escrow
  /api/documents/*      Reception documents, settlement, delivery notes
  /api/settlements/*    Settlement payments
  /api/deliveries/*     Deliveries
  /api/transfers        Balance transfers
  /api/register/*       Cash register (admin)
  /api/fund-requests/*  Fund requests
  /api/scenarios/*      Demo scenarios
  /api/health           Liveness
  /metrics              Prometheus (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// User and balance routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Post("/{id}/credit", h.Credit)
			r.Post("/{id}/debit", h.Debit)
			r.Get("/{id}/movements", h.GetMovements)
			r.Get("/{id}/transfers", h.GetUserTransfers)
		})

		// Stock routes
		r.Route("/stock/{material}", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Get("/available", h.GetAvailable)
			r.Get("/total", h.GetSystemTotal)
			r.Post("/in", h.StockIn)
			r.Post("/reserve", h.Reserve)
			r.Post("/release", h.Release)
		})

		// Escrow routes
		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.CreateAdvance)
			r.Post("/auto-confirm", h.RunAutoConfirm)
			r.Get("/{id}", h.GetAdvance)
			r.Post("/{id}/confirm", h.ConfirmArrival)
			r.Post("/{id}/cancel", h.CancelAdvance)
			r.Post("/{id}/consume", h.ConsumeAdvance)
		})

		// Document and settlement routes
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.RegisterDocument)
			r.Get("/{id}", h.GetDocument)
			r.Post("/{id}/settle", h.Settle)
			r.Get("/{id}/settlement", h.GetDocumentSettlement)
			r.Get("/{id}/deliveries", h.ListDocumentDeliveries)
			r.Post("/{id}/deliveries", h.StartPartialDelivery)
		})
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/{id}", h.GetSettlement)
			r.Post("/{id}/payments", h.AddPayment)
		})

		// Delivery routes
		r.Route("/deliveries", func(r chi.Router) {
			r.Post("/", h.CreateDelivery)
			r.Get("/{id}", h.GetDelivery)
			r.Post("/{id}/complete", h.CompleteDelivery)
			r.Post("/{id}/cancel", h.CancelDelivery)
		})

		r.Post("/transfers", h.CreateTransfer)

		// Cash register routes
		r.Route("/register", func(r chi.Router) {
			r.Get("/", h.GetRegister)
			r.Post("/entries", h.RecordRegisterEntry)
			r.Put("/entries/{id}", h.EditRegisterEntry)
			r.Delete("/entries/{id}", h.DeleteRegisterEntry)
			r.Post("/rebuild", h.RebuildRegister)
		})

		// Fund request routes
		r.Route("/fund-requests", func(r chi.Router) {
			r.Get("/", h.ListFundRequests)
			r.Post("/", h.RequestFunds)
			r.Post("/{id}/approve", h.ApproveFundRequest)
			r.Post("/{id}/reject", h.RejectFundRequest)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	return r
}

// requestLogger logs one line per request with logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"remote":     r.RemoteAddr,
			})
			switch {
			case ww.Status() >= 500:
				entry.Error("request")
			case ww.Status() >= 400:
				entry.Warn("request")
			default:
				entry.Debug("request")
			}
		})
	}
}
