// Package scheduler implements C9: the expiry worker that sweeps
// non-terminal orders past their expires_at deadline and patches them to
// expired. Scheduling is driven by robfig/cron/v3 rather than a bare
// time.Ticker, kept for parity with the rest of the pack's scheduled-job
// dependency and because "@every" intervals read more clearly at the call
// site than a raw duration.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/finalize"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/store"
)

// ExpiryWorker sweeps for orders past deadline on a fixed schedule
// (spec.md §4.9).
type ExpiryWorker struct {
	orders  *store.Orders
	engine  *finalize.Engine
	log     *obs.Logger
	cron    *cron.Cron
	running atomic.Bool
}

func NewExpiryWorker(orders *store.Orders, engine *finalize.Engine, log *obs.Logger) *ExpiryWorker {
	c := cron.New()
	return &ExpiryWorker{orders: orders, engine: engine, log: log, cron: c}
}

// Start registers the sweep on config.ExpiryWorkerInterval and begins
// running it in the background. Stop via the returned context's owner
// calling Shutdown.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc("@every "+config.ExpiryWorkerInterval.String(), func() {
		w.sweepOnce(ctx)
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Shutdown stops the cron scheduler, waiting for any in-flight sweep.
func (w *ExpiryWorker) Shutdown(ctx context.Context) {
	<-w.cron.Stop().Done()
}

// sweepOnce is one pass: every order past deadline is patched to expired.
// Each order goes through PatchStatus, whose transaction waits for the
// database write lock like any other writer; rows held by another writer
// are not skipped. An order whose patch fails is logged and is picked up
// again on a later pass if it is still past deadline.
func (w *ExpiryWorker) sweepOnce(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("expiry sweep already running, skipping this tick")
		return
	}
	defer w.running.Store(false)

	ids, err := w.orders.ListExpirable(ctx, time.Now().UTC())
	if err != nil {
		w.log.Error("expiry sweep: failed to list expirable orders", "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	w.log.Debug("expiry sweep starting", "candidate_count", len(ids))

	expired := 0
	for _, id := range ids {
		_, err := w.engine.PatchStatus(ctx, finalize.PatchStatusRequest{
			OrderID: id,
			Actor:   domain.System(),
			To:      domain.StatusExpired,
		})
		if err != nil {
			w.log.Warn("expiry sweep: could not expire order", "order_id", id, "err", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		w.log.Info("expiry sweep complete", "expired_count", expired, "candidate_count", len(ids))
	}
}
