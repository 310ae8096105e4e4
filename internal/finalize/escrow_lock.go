package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/statusmap"
	"github.com/oxzoid/ospay-core/internal/store"
)

var escrowLockEligible = map[domain.Status]bool{
	domain.StatusPending:       true,
	domain.StatusAccepted:      true,
	domain.StatusEscrowPending: true,
}

// EscrowLock is spec.md §4.5.1: moves an order into escrowed, debiting the
// locking actor's book balance in mock mode and recording the (kind, id,
// amount) triple refund must reverse later, no matter who holds the roles
// by then.
func (e *Engine) EscrowLock(ctx context.Context, req EscrowLockRequest) (*Result, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := e.Orders.LoadForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}
	// The write-once guard runs before the status gate: an order that was
	// already locked has left every eligible status, so checking status
	// first would report STATUS_INVALID to the losing second locker.
	if order.EscrowTxHash != "" {
		return nil, coreerr.Conflict(coreerr.CodeAlreadyEscrowed, order.ID, "escrow already locked")
	}
	if !escrowLockEligible[order.Status] {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "order is not eligible for escrow lock from status "+string(order.Status))
	}

	debitRef, ok := actorEntity(req.Actor)
	if !ok {
		return nil, coreerr.Denied(coreerr.CodeDenied, order.ID, "actor kind "+string(req.Actor.Kind)+" cannot lock escrow")
	}

	if e.MockMode {
		if err := e.Ledger.Debit(ctx, tx, debitRef, order.CryptoAmount, order.CryptoCurrency); err != nil {
			return nil, err
		}
		if err := e.Ledger.RecordLedger(ctx, tx, store.LedgerEntry{
			ID:                uuid.NewString(),
			RelatedOrderID:    order.ID,
			EntryType:         domain.LedgerEscrowLock,
			Amount:            order.CryptoAmount,
			Currency:          order.CryptoCurrency,
			DebitedEntityType: debitRef.Kind,
			DebitedEntityID:   debitRef.ID,
			CreatedAt:         time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	} else {
		ok, err := e.Verifier.VerifyTransfer(ctx, req.EscrowTxHash, req.Address, order.CryptoAmount.BigIntAtScale(onChainDecimals))
		if err != nil || !ok {
			return nil, coreerr.Denied(coreerr.CodeValidation, order.ID, "on-chain escrow transfer could not be verified")
		}
	}

	now := time.Now().UTC()
	expires := now.Add(config.EscrowExpiry)
	debitKind := debitRef.Kind
	debitID := debitRef.ID
	debitAmount := order.CryptoAmount
	patch := store.Patch{
		Status:                  domain.StatusEscrowed,
		EscrowTxHash:            &req.EscrowTxHash,
		EscrowAddress:           strPtrOrNil(req.Address),
		EscrowTradeID:           strPtrOrNil(req.TradeID),
		EscrowTradePDA:          strPtrOrNil(req.TradePDA),
		EscrowPDA:               strPtrOrNil(req.PDA),
		EscrowCreatorWallet:     strPtrOrNil(req.CreatorWallet),
		EscrowDebitedEntityType: &debitKind,
		EscrowDebitedEntityID:   &debitID,
		EscrowDebitedAmount:     &debitAmount,
		EscrowedAt:              &now,
		ExpiresAt:               &expires,
	}
	updated, err := e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, patch)
	if err != nil {
		return nil, err
	}

	if err := e.Events.Append(ctx, tx, store.OrderEvent{
		ID: uuid.NewString(), OrderID: order.ID, EventType: "status_changed_to_escrowed",
		ActorType: req.Actor.Kind, ActorID: req.Actor.ID, OldStatus: order.Status, NewStatus: domain.StatusEscrowed,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	payload, err := outbox.Marshal(outbox.NewPayload(updated.ID, updated.UserID, updated.MerchantID,
		updated.Status, statusmap.ToPublic(updated.Status), updated.OrderVersion, order.Status, req.EscrowTxHash))
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "marshal outbox payload", err)
	}
	row := store.OutboxRow{ID: uuid.NewString(), OrderID: updated.ID, EventType: domain.EventOrderEscrowed, Payload: payload}
	if err := e.Outbox.Enqueue(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit escrow lock", err)
	}
	return &Result{Order: updated, Notifications: []store.OutboxRow{row}}, nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
