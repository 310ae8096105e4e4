package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oxzoid/ospay-core/internal/coreerr"
)

// Events implements C6: the append-only transition log. No updates, no
// deletes — every persisted transition writes exactly one row (spec.md §3
// invariant i, §4.6).
type Events struct{ db *sql.DB }

func NewEvents(db *sql.DB) *Events { return &Events{db: db} }

// Append writes one event row inside tx.
func (e *Events) Append(ctx context.Context, tx *sql.Tx, ev OrderEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, event_type, actor_type, actor_id, old_status, new_status, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, ev.ID, ev.OrderID, ev.EventType, string(ev.ActorType), nullStr(ev.ActorID), string(ev.OldStatus), string(ev.NewStatus), nullStr(ev.Metadata), ev.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return coreerr.Fatal(coreerr.CodeTimeout, ev.OrderID, "append order event", err)
	}
	return nil
}

// ForOrder reconstructs the full history for audit (read-only; nothing in
// this repository calls it yet).
func (e *Events) ForOrder(ctx context.Context, q Querier, orderID string) ([]OrderEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, event_type, actor_type, actor_id, old_status, new_status, metadata, created_at
		FROM order_events WHERE order_id = ? ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderEvent
	for rows.Next() {
		var (
			ev                         OrderEvent
			actorID, metadata, created string
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.EventType, &ev.ActorType, &actorID, &ev.OldStatus, &ev.NewStatus, &metadata, &created); err != nil {
			return nil, err
		}
		ev.ActorID = actorID
		ev.Metadata = metadata
		ev.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByOrderAndType supports C8's invariant check for "exactly one event
// of type X for this order".
func (e *Events) CountByOrderAndType(ctx context.Context, q Querier, orderID, eventType string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM order_events WHERE order_id = ? AND event_type = ?`, orderID, eventType).Scan(&n)
	return n, err
}
