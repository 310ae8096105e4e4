package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
)

// Ledger implements C4: the double-entry ledger and balance book. Every
// method except the AllBalances read path takes a *sql.Tx because
// debit/credit/record_ledger/platform_fee are always composed inside the
// Finalization Engine's single transaction (spec.md §4.4).
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

// getOrCreateAccount locks (by virtue of running inside the caller's
// single-writer transaction) and returns a balance account, creating a
// zero-balance row the first time an entity is referenced.
func (l *Ledger) getOrCreateAccount(ctx context.Context, tx *sql.Tx, ref domain.EntityRef, currency string) (*BalanceAccount, error) {
	var acct BalanceAccount
	err := tx.QueryRowContext(ctx, `
		SELECT owner_kind, owner_id, currency, balance, locked_in_escrow, updated_at
		FROM balance_accounts WHERE owner_kind = ? AND owner_id = ? AND currency = ?
	`, string(ref.Kind), ref.ID, currency).Scan(
		&acct.OwnerKind, &acct.OwnerID, &acct.Currency, &acct.Balance, &acct.LockedInEscrow, &acctUpdatedAtScanner{&acct},
	)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC()
		_, insErr := tx.ExecContext(ctx, `
			INSERT INTO balance_accounts (owner_kind, owner_id, currency, balance, locked_in_escrow, updated_at)
			VALUES (?,?,?,?,?,?)
		`, string(ref.Kind), ref.ID, currency, "0", "0", now.Format(time.RFC3339))
		if insErr != nil {
			return nil, coreerr.Fatal(coreerr.CodeTimeout, "", "create balance account", insErr)
		}
		return &BalanceAccount{OwnerKind: ref.Kind, OwnerID: ref.ID, Currency: currency, Balance: money.Zero, LockedInEscrow: money.Zero, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, "", "load balance account", err)
	}
	return &acct, nil
}

// acctUpdatedAtScanner adapts a string column into BalanceAccount.UpdatedAt
// without requiring BalanceAccount to implement sql.Scanner itself.
type acctUpdatedAtScanner struct{ acct *BalanceAccount }

func (s *acctUpdatedAtScanner) Scan(src any) error {
	str, _ := src.(string)
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	s.acct.UpdatedAt = t
	return nil
}

func (l *Ledger) setBalance(ctx context.Context, tx *sql.Tx, ref domain.EntityRef, currency string, balance money.Amount) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE balance_accounts SET balance = ?, updated_at = ? WHERE owner_kind = ? AND owner_id = ? AND currency = ?
	`, balance.String(), time.Now().UTC().Format(time.RFC3339), string(ref.Kind), ref.ID, currency)
	return err
}

// Debit locks the account row (via the enclosing transaction) and
// decrements it by amount, failing with INSUFFICIENT_BALANCE if that would
// take a non-platform account negative (spec.md §3 invariant f, §4.4).
func (l *Ledger) Debit(ctx context.Context, tx *sql.Tx, ref domain.EntityRef, amount money.Amount, currency string) error {
	acct, err := l.getOrCreateAccount(ctx, tx, ref, currency)
	if err != nil {
		return err
	}
	next := acct.Balance.Sub(amount)
	if ref.Kind != domain.EntityPlatform && next.IsNegative() {
		return coreerr.Denied(coreerr.CodeInsufficientBalance, "", "insufficient balance for "+string(ref.Kind)+":"+ref.ID)
	}
	return l.setBalance(ctx, tx, ref, currency, next)
}

// Credit locks and increments the account row; no non-negativity check, per
// spec.md §4.4 (credits always succeed).
func (l *Ledger) Credit(ctx context.Context, tx *sql.Tx, ref domain.EntityRef, amount money.Amount, currency string) error {
	acct, err := l.getOrCreateAccount(ctx, tx, ref, currency)
	if err != nil {
		return err
	}
	return l.setBalance(ctx, tx, ref, currency, acct.Balance.Add(amount))
}

// Balance returns the current balance for an entity/currency, creating the
// zero-balance row if absent, so it writes when the account is new.
// Convenience for C10 and tests.
func (l *Ledger) Balance(ctx context.Context, tx *sql.Tx, ref domain.EntityRef, currency string) (money.Amount, error) {
	acct, err := l.getOrCreateAccount(ctx, tx, ref, currency)
	if err != nil {
		return money.Zero, err
	}
	return acct.Balance, nil
}

// AllBalances is the reconciliation read path: every balance_accounts row,
// for the operator-facing report adapted from the teacher's
// ReconciliationHandler (balance sums per merchant/asset) onto the
// double-entry model (SPEC_FULL.md §5).
func (l *Ledger) AllBalances(ctx context.Context) ([]BalanceAccount, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT owner_kind, owner_id, currency, balance, locked_in_escrow, updated_at FROM balance_accounts
		ORDER BY owner_kind, owner_id, currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceAccount
	for rows.Next() {
		var acct BalanceAccount
		if err := rows.Scan(&acct.OwnerKind, &acct.OwnerID, &acct.Currency, &acct.Balance, &acct.LockedInEscrow, &acctUpdatedAtScanner{&acct}); err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// RecordLedger appends an immutable ledger entry (spec.md §3/§4.4).
func (l *Ledger) RecordLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	if e.ID == "" {
		return errors.New("ledger entry requires an id")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, related_order_id, entry_type, amount, currency,
			debited_entity_type, debited_entity_id, credited_entity_type, credited_entity_id, created_at
		) VALUES (?,?,?,?,?, ?,?,?,?, ?)
	`,
		e.ID, nullStr(e.RelatedOrderID), string(e.EntryType), e.Amount.String(), e.Currency,
		nullStr(string(e.DebitedEntityType)), nullStr(e.DebitedEntityID), nullStr(string(e.CreditedEntityType)), nullStr(e.CreditedEntityID),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return coreerr.Fatal(coreerr.CodeTimeout, e.RelatedOrderID, "record ledger entry", err)
	}
	return nil
}

// PlatformFee credits the singleton platform account and appends a
// platform_fee_transactions audit row (spec.md §4.4, §9).
func (l *Ledger) PlatformFee(ctx context.Context, tx *sql.Tx, id string, amount money.Amount, feePercentage money.Amount, currency, orderID string, spread domain.SpreadPreference) error {
	if err := l.Credit(ctx, tx, domain.PlatformRef, amount, currency); err != nil {
		return err
	}
	balanceAfter, err := l.Balance(ctx, tx, domain.PlatformRef, currency)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO platform_fee_transactions (id, order_id, fee_amount, fee_percentage, spread_preference, platform_balance_after, created_at)
		VALUES (?,?,?,?,?,?,?)
	`, id, orderID, amount.String(), feePercentage.String(), string(spread), balanceAfter.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return coreerr.Fatal(coreerr.CodeTimeout, orderID, "record platform fee transaction", err)
	}
	return nil
}
