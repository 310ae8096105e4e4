// Package httpapi is C10: the public HTTP surface over the finalization
// engine, order store and outbox. Routing and handler shape follow the
// teacher's pkg/api (a plain http.ServeMux, one handler function per
// route, APIKeyAuthMiddleware wrapping mutating endpoints, swaggo doc
// comments on every handler) generalized from OSPay's four-status order
// model onto the twelve-status state machine and the atomic commands in
// internal/finalize.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/finalize"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/realtime"
	"github.com/oxzoid/ospay-core/internal/store"
)

// Server holds every collaborator the handlers in this package need. It
// has no behavior of its own beyond wiring them to routes; every command
// still goes through internal/finalize, every read through internal/store.
type Server struct {
	db   *sql.DB
	cfg  config.Config
	log  *obs.Logger
	orders      *store.Orders
	ledger      *store.Ledger
	events      *store.Events
	offers      *store.Offers
	accounts    *store.Accounts
	outboxStore *store.Outbox
	idempotency *store.Idempotency
	engine      *finalize.Engine
	drainer     *outbox.Drainer
	hub         *realtime.Hub
}

// NewServer builds the handler set. Callers (cmd/ospaycore) construct every
// collaborator first, the same order OSPay's main.go opens the DB, ensures
// the schema, then calls api.Init.
func NewServer(db *sql.DB, cfg config.Config, log *obs.Logger, engine *finalize.Engine, drainer *outbox.Drainer, hub *realtime.Hub) *Server {
	return &Server{
		db:          db,
		cfg:         cfg,
		log:         log,
		orders:      store.NewOrders(db),
		ledger:      store.NewLedger(db),
		events:      store.NewEvents(db),
		offers:      store.NewOffers(db),
		accounts:    store.NewAccounts(db),
		outboxStore: store.NewOutbox(db),
		idempotency: store.NewIdempotency(db),
		engine:      engine,
		drainer:     drainer,
		hub:         hub,
	}
}

// Routes builds the mux exactly the way OSPay's main.go lists routes
// inline, rather than introducing a router framework the single-binary
// teacher never needed.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/dbhealth", s.dbHealthHandler)
	mux.Handle("/swagger/", httpSwagger.WrapHandler)
	mux.HandleFunc("/realtime", s.hub.ServeHTTP)

	mux.HandleFunc("/merchants", s.createMerchantHandler)
	mux.HandleFunc("/users", s.createUserHandler)

	mux.HandleFunc("/orders", s.requireActor(s.createOrderHandler))
	mux.HandleFunc("/orders/get", s.requireActor(s.getOrderHandler))

	mux.HandleFunc("/orders/escrow_lock", s.requireActor(s.escrowLockHandler))
	mux.HandleFunc("/orders/release", s.requireActor(s.releaseHandler))
	mux.HandleFunc("/orders/refund", s.requireActor(s.refundHandler))
	mux.HandleFunc("/orders/cancel", s.requireActor(s.cancelHandler))
	mux.HandleFunc("/orders/patch_status", s.requireActor(s.patchStatusHandler))

	mux.HandleFunc("/reconciliation", s.requireActor(s.reconciliationHandler))
	mux.HandleFunc("/debug/metrics", s.debugMetricsHandler)

	return corsMiddleware(mux)
}

// healthHandler godoc
// @Summary      Liveness probe
// @Tags         ops
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /health [get]
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// dbHealthHandler godoc
// @Summary      Database connectivity probe
// @Tags         ops
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Failure      503  {object}  map[string]bool
// @Router       /dbhealth [get]
func (s *Server) dbHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// corsMiddleware is kept verbatim from the teacher's main.go: a permissive
// preflight responder so the frontend can reach every route without a
// separate proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, x-actor-type, x-actor-id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
