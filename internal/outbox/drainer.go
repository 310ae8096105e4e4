package outbox

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/store"
)

// Deliverer is the narrow contract external collaborators implement to
// receive outbox notifications (spec.md §4.7): a webhook sink, a push
// notifier, or (via internal/realtime) a websocket broadcaster.
type Deliverer interface {
	Deliver(ctx context.Context, eventType string, payload string) error
}

// Drainer claims and delivers pending outbox rows with exponential backoff.
// It never publishes inside the transaction that enqueued a row — claiming
// happens in its own short read-only transaction, delivery happens after
// commit (spec.md §4.7, §9).
type Drainer struct {
	db        *sql.DB
	outbox    *store.Outbox
	deliverer Deliverer
	log       *obs.Logger
	batchSize int
}

func NewDrainer(db *sql.DB, outboxStore *store.Outbox, deliverer Deliverer, log *obs.Logger) *Drainer {
	return &Drainer{db: db, outbox: outboxStore, deliverer: deliverer, log: log, batchSize: config.OutboxDrainBatchSize}
}

// Backoff implements spec.md §4.7's exponential backoff: base 10s, cap 5m.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(config.OutboxBackoffBase) * math.Pow(2, float64(attempts-1)))
	if d > config.OutboxBackoffCap {
		return config.OutboxBackoffCap
	}
	return d
}

// DrainOnce claims one batch and attempts delivery of each row, returning
// the number of rows processed.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	rows, err := d.outbox.ClaimBatch(ctx, tx, d.batchSize)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, row := range rows {
		deliverCtx, cancel := context.WithTimeout(ctx, config.DeliveryTimeout)
		err := d.deliverer.Deliver(deliverCtx, string(row.EventType), row.Payload)
		cancel()
		if err == nil {
			if markErr := d.outbox.MarkDelivered(ctx, row.ID); markErr != nil {
				d.log.Error("failed to mark outbox row delivered", "outbox_id", row.ID, "err", markErr)
			}
			continue
		}
		attempts := row.Attempts + 1
		next := time.Now().UTC().Add(Backoff(attempts))
		if markErr := d.outbox.MarkAttemptFailed(ctx, row.ID, attempts, row.MaxAttempts, err.Error(), next); markErr != nil {
			d.log.Error("failed to record outbox delivery failure", "outbox_id", row.ID, "err", markErr)
			continue
		}
		if attempts >= row.MaxAttempts {
			d.log.Alert("outbox row exhausted retries", "outbox_id", row.ID, "order_id", row.OrderID, "event_type", row.EventType)
		} else {
			d.log.Warn("outbox delivery failed, will retry", "outbox_id", row.ID, "attempt", attempts, "next_attempt_at", next)
		}
	}
	return len(rows), nil
}

// Run drains on a fixed interval until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.DrainOnce(ctx)
			if err != nil {
				d.log.Error("outbox drain pass failed", "err", err)
				continue
			}
			if n > 0 {
				d.log.Debug("outbox drain pass complete", "delivered_or_retried", n)
			}
		}
	}
}

// StuckReport returns rows matching the stuck-outbox monitoring query for
// operator visibility (spec.md §4.7).
func (d *Drainer) StuckReport(ctx context.Context) ([]store.OutboxRow, error) {
	return d.outbox.StuckRows(ctx, config.OutboxStuckAge)
}
