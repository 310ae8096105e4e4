// Package finalize implements C5, the Finalization Engine: the four atomic
// units of work (escrow_lock, release, refund, cancel_simple) plus the
// general patch_status transition, each composing C1 (state machine), C3
// (order store), C4 (ledger/balances), C6 (event log) and C7 (outbox
// enqueue) inside exactly one database transaction (spec.md §4.5). It also
// owns C8, the post-commit invariant verifier.
package finalize

import (
	"context"
	"database/sql"

	"github.com/oxzoid/ospay-core/internal/chainverify"
	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/store"
)

// Engine is C5. One Engine is built at startup and shared by every HTTP
// handler and scheduled worker.
type Engine struct {
	db *sql.DB

	Orders     *store.Orders
	Ledger     *store.Ledger
	Events     *store.Events
	Outbox     *store.Outbox
	Offers     *store.Offers
	TradeStats *store.TradeStats

	Verifier chainverify.Verifier
	MockMode bool

	log *obs.Logger
}

func NewEngine(db *sql.DB, mockMode bool, verifier chainverify.Verifier, log *obs.Logger) *Engine {
	return &Engine{
		db:         db,
		Orders:     store.NewOrders(db),
		Ledger:     store.NewLedger(db),
		Events:     store.NewEvents(db),
		Outbox:     store.NewOutbox(db),
		Offers:     store.NewOffers(db),
		TradeStats: store.NewTradeStats(db),
		Verifier:   verifier,
		MockMode:   mockMode,
		log:        log,
	}
}

// Result is returned by every C5 operation on success: the post-image of
// the order plus the outbox rows written in the same transaction (spec.md
// §4.5 preamble).
type Result struct {
	Order         *store.Order
	Notifications []store.OutboxRow
}

// begin starts the transaction every finalization operation runs inside.
// It deliberately does not wrap ctx in its own timeout: database/sql rolls
// a transaction back the instant its context is cancelled, so a timeout
// scoped to begin() alone would abort the transaction the moment this
// function returns. The transaction is bounded only by whatever deadline
// the caller's ctx carries: the command handlers in internal/httpapi pass
// the request context and the expiry worker passes its run context, with
// no config.TxBudget deadline applied, so those transactions have no
// wall-clock bound of their own.
//
// Isolation is pinned to sql.LevelSerializable: modernc.org/sqlite issues
// BEGIN IMMEDIATE for that level instead of the default deferred BEGIN, so
// the write lock is acquired here rather than on first write. That is the
// single-writer discipline spec.md §5 requires ("every state-mutating
// operation MUST begin with SELECT ... FOR UPDATE ... held to commit")
// without a dialect that supports row-level locking natively.
func (e *Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, "", "begin finalization transaction", err)
	}
	return tx, nil
}

// onChainDecimals is BSC-USD's token precision, used to convert a
// money.Amount into the integer smallest-unit value chainverify compares
// against an on-chain transfer log.
const onChainDecimals = 18

func actorEntity(actor domain.Actor) (domain.EntityRef, bool) {
	switch actor.Kind {
	case domain.ActorMerchant:
		return domain.EntityRef{Kind: domain.EntityMerchant, ID: actor.ID}, true
	case domain.ActorUser:
		return domain.EntityRef{Kind: domain.EntityUser, ID: actor.ID}, true
	default:
		return domain.EntityRef{}, false
	}
}

// recipientForRelease determines who receives escrow on release (spec.md
// §4.5.2 step 3). The collateral was locked against whichever party
// escrow_lock debited (recorded on the order at lock time, spec.md §9); the
// counterparty is always who release pays, regardless of which side of the
// trade each party was on. A buyer_merchant_id reassignment (M2M
// acceptance) takes priority over the original user when the debited party
// was the merchant.
func recipientForRelease(o *store.Order) domain.EntityRef {
	debited, _, hadEscrow := o.EscrowDebitedRef()
	if hadEscrow && debited.Kind == domain.EntityUser {
		return domain.EntityRef{Kind: domain.EntityMerchant, ID: o.MerchantID}
	}
	if o.BuyerMerchantID != "" {
		return domain.EntityRef{Kind: domain.EntityMerchant, ID: o.BuyerMerchantID}
	}
	return domain.EntityRef{Kind: domain.EntityUser, ID: o.UserID}
}
