package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/oxzoid/ospay-core/internal/money"
)

// Offers is the minimal liquidity stub described in SPEC_FULL.md §5:
// matching/offer management is out of scope (spec.md §1), but liquidity
// restoration (spec.md §4.5.4, §9) needs somewhere real to land an
// available_amount increment.
type Offers struct{ db *sql.DB }

func NewOffers(db *sql.DB) *Offers { return &Offers{db: db} }

// RestoreLiquidity increments available_amount for an offer inside tx. A
// missing offer_id (orders may be created without one in tests, or an
// offer may already be gone) is a no-op, not an error — liquidity
// restoration is best-effort bookkeeping, never a finalization blocker.
func (o *Offers) RestoreLiquidity(ctx context.Context, tx *sql.Tx, offerID string, amount money.Amount) error {
	if offerID == "" {
		return nil
	}
	var current money.Amount
	err := tx.QueryRowContext(ctx, `SELECT available_amount FROM merchant_offers WHERE id = ?`, offerID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE merchant_offers SET available_amount = ?, updated_at = ? WHERE id = ?`,
		current.Add(amount).String(), time.Now().UTC().Format(time.RFC3339), offerID)
	return err
}

// Create inserts a new offer row; used by tests and by the (out-of-scope)
// marketplace seam when exercising liquidity restoration end to end.
func (o *Offers) Create(ctx context.Context, id, merchantID string, available money.Amount, currency string) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO merchant_offers (id, merchant_id, available_amount, currency, updated_at) VALUES (?,?,?,?,?)
	`, id, merchantID, available.String(), currency, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Available returns the current available_amount for an offer.
func (o *Offers) Available(ctx context.Context, offerID string) (money.Amount, error) {
	var amt money.Amount
	err := o.db.QueryRowContext(ctx, `SELECT available_amount FROM merchant_offers WHERE id = ?`, offerID).Scan(&amt)
	return amt, err
}
