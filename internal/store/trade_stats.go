package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
)

// TradeStats tracks completed-trade counters per (owner, currency),
// supplementing the ledger with the "stats increment on user/merchant
// totals" release performs (spec.md §4.5.2 step 6). Kept out of
// ledger_entries so it can never be mistaken for a fund movement and throw
// off balance conservation (P3).
type TradeStats struct{ db *sql.DB }

func NewTradeStats(db *sql.DB) *TradeStats { return &TradeStats{db: db} }

// IncrementCompleted bumps completed_count by one and total_volume by
// amount for owner/currency, creating the row on first reference.
func (t *TradeStats) IncrementCompleted(ctx context.Context, tx *sql.Tx, owner domain.EntityRef, currency string, amount money.Amount) error {
	var count int
	var volume money.Amount
	err := tx.QueryRowContext(ctx, `
		SELECT completed_count, total_volume FROM trade_stats WHERE owner_kind = ? AND owner_id = ? AND currency = ?
	`, string(owner.Kind), owner.ID, currency).Scan(&count, &volume)
	now := time.Now().UTC().Format(time.RFC3339)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trade_stats (owner_kind, owner_id, currency, completed_count, total_volume, updated_at)
			VALUES (?,?,?,?,?,?)
		`, string(owner.Kind), owner.ID, currency, 1, amount.String(), now)
		return err
	}
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE trade_stats SET completed_count = ?, total_volume = ?, updated_at = ?
		WHERE owner_kind = ? AND owner_id = ? AND currency = ?
	`, count+1, volume.Add(amount).String(), now, string(owner.Kind), owner.ID, currency)
	return err
}
