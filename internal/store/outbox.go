package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
)

// Outbox implements the persistence half of C7: rows are enqueued in the
// same transaction as the owning state change (spec.md §4.7); draining and
// delivery live in package outbox, which calls back into these methods.
type Outbox struct{ db *sql.DB }

func NewOutbox(db *sql.DB) *Outbox { return &Outbox{db: db} }

// Enqueue writes one pending row inside tx. Never call this outside a
// finalization transaction — direct publish inside the transaction would
// couple commit latency to downstream health (spec.md §9).
func (o *Outbox) Enqueue(ctx context.Context, tx *sql.Tx, row OutboxRow) error {
	if row.MaxAttempts == 0 {
		row.MaxAttempts = 5
	}
	if row.NextAttemptAt.IsZero() {
		row.NextAttemptAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notification_outbox (id, order_id, event_type, payload, status, attempts, max_attempts, next_attempt_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, row.ID, row.OrderID, string(row.EventType), row.Payload, string(OutboxPending), 0, row.MaxAttempts,
		row.NextAttemptAt.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return coreerr.Fatal(coreerr.CodeTimeout, row.OrderID, "enqueue outbox row", err)
	}
	return nil
}

func scanOutboxRow(rows interface{ Scan(dest ...any) error }) (*OutboxRow, error) {
	var (
		row                                  OutboxRow
		lastError, deliveredAt, nextAttempt string
		createdAt                           string
	)
	var lastErrNull, deliveredNull sql.NullString
	if err := rows.Scan(&row.ID, &row.OrderID, &row.EventType, &row.Payload, &row.Status, &row.Attempts, &row.MaxAttempts,
		&lastErrNull, &nextAttempt, &createdAt, &deliveredNull); err != nil {
		return nil, err
	}
	lastError = lastErrNull.String
	deliveredAt = deliveredNull.String
	row.LastError = lastError
	row.NextAttemptAt, _ = time.Parse(time.RFC3339, nextAttempt)
	row.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if deliveredAt != "" {
		t, err := time.Parse(time.RFC3339, deliveredAt)
		if err == nil {
			row.DeliveredAt = &t
		}
	}
	return &row, nil
}

// ClaimBatch returns up to limit pending rows eligible for delivery now,
// ordered by created_at, per spec.md §4.7. SQLite has no SELECT ... SKIP
// LOCKED; the drainer's single-process design means no competing claimer
// exists within a process. This only reads, inside whatever transaction
// the caller passes (the drainer's default-options one), and does not mark
// the rows as claimed, so drainers in separate processes can pick up the
// same rows.
func (o *Outbox) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int) ([]OutboxRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, event_type, payload, status, attempts, max_attempts, last_error, next_attempt_at, created_at, delivered_at
		FROM notification_outbox
		WHERE status = ? AND next_attempt_at <= ? AND attempts < max_attempts
		ORDER BY created_at ASC
		LIMIT ?
	`, string(OutboxPending), time.Now().UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxRow
	for rows.Next() {
		r, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MarkDelivered sets status=delivered, delivered_at=now.
func (o *Outbox) MarkDelivered(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = ?, delivered_at = ? WHERE id = ?
	`, string(OutboxDelivered), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// MarkAttemptFailed increments attempts, records the error, and schedules
// next_attempt_at per exponential backoff; once attempts reaches
// max_attempts the row is marked failed (spec.md §4.7).
func (o *Outbox) MarkAttemptFailed(ctx context.Context, id string, attempts int, maxAttempts int, lastError string, nextAttemptAt time.Time) error {
	status := string(OutboxPending)
	if attempts >= maxAttempts {
		status = string(OutboxFailed)
	}
	_, err := o.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?
	`, status, attempts, lastError, nextAttemptAt.Format(time.RFC3339), id)
	return err
}

// StuckRows lists rows matching spec.md §4.7's stuck-outbox monitoring
// query: pending or failed, older than minAge, with attempts remaining.
func (o *Outbox) StuckRows(ctx context.Context, minAge time.Duration) ([]OutboxRow, error) {
	cutoff := time.Now().UTC().Add(-minAge).Format(time.RFC3339)
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, order_id, event_type, payload, status, attempts, max_attempts, last_error, next_attempt_at, created_at, delivered_at
		FROM notification_outbox
		WHERE status IN (?, ?) AND created_at <= ? AND attempts < max_attempts
	`, string(OutboxPending), string(OutboxFailed), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxRow
	for rows.Next() {
		r, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountByOrderAndEventType supports C8's check for "exactly one outbox row
// of type X for this order".
func (o *Outbox) CountByOrderAndEventType(ctx context.Context, orderID string, eventType domain.OutboxEventType) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM notification_outbox WHERE order_id = ? AND event_type = ?`, orderID, string(eventType)).Scan(&n)
	return n, err
}
