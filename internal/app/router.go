package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/handler"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
	"github.com/josh-kwaku/campus-ledger/internal/middleware"
)

type Handlers struct {
	Accounts       *handler.AccountHandler
	Sync           *handler.SyncHandler
	Whitelist      *handler.WhitelistHandler
	Conflicts      *handler.ConflictHandler
	Reconciliation *handler.ReconciliationHandler
	Health         *handler.HealthHandler
}

type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics(cfg.Metrics))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-Idempotent-Replayed"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.Health.Liveness)
	r.Get("/health/ready", h.Health.Readiness)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// terminal routes; operators may also read a device snapshot
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, auth.RoleTerminal))
		r.Post("/sync/batch", h.Sync.Batch)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, auth.RoleTerminal, auth.RoleOperator))
		r.Get("/devices/{deviceId}/whitelist", h.Whitelist.Snapshot)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, auth.RoleOperator))

		r.Get("/accounts", h.Accounts.List)
		r.Post("/accounts", h.Accounts.Open)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", h.Accounts.Balance)
			r.Get("/transactions", h.Accounts.Transactions)
			r.Post("/status", h.Accounts.SetStatus)
			r.Post("/debit", h.Accounts.Mutate(domain.KindDebit))
			r.Post("/credit", h.Accounts.Mutate(domain.KindCredit))
			r.Post("/freeze", h.Accounts.Mutate(domain.KindFreeze))
			r.Post("/unfreeze", h.Accounts.Mutate(domain.KindUnfreeze))
			r.Post("/adjust", h.Accounts.Mutate(domain.KindAdjustment))
		})

		r.Put("/devices/{deviceId}/whitelist/{accountId}", h.Whitelist.Upsert)

		r.Get("/conflicts", h.Conflicts.List)
		r.Get("/conflicts/{txnId}", h.Conflicts.Get)
		r.Post("/conflicts/{txnId}/resolve", h.Conflicts.Resolve)

		r.Post("/reconciliation/run", h.Reconciliation.Run)
		r.Get("/reconciliation/{accountId}", h.Reconciliation.Results)
		r.Post("/reconciliation/{accountId}", h.Reconciliation.Reconcile)
		r.Post("/reconciliation/{accountId}/realign", h.Reconciliation.Realign)
	})

	return r
}
