package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/statemachine"
	"github.com/oxzoid/ospay-core/internal/statusmap"
	"github.com/oxzoid/ospay-core/internal/store"
)

// Refund is spec.md §4.5.3: atomically reverses an escrow lock and moves
// the order to req.To (cancelled when unset). The spec is explicit that this must never be implemented as
// "refund the money" followed by "mark it cancelled" in two separate
// commits — a crash between them leaves money moved with no record of why,
// or a cancelled order sitting on someone else's now-phantom balance.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := e.Orders.LoadForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if statemachine.IsTerminal(order.Status) {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "order is already terminal: "+string(order.Status))
	}

	to := req.To
	if to == "" {
		to = domain.StatusCancelled
	}

	now := time.Now().UTC()
	debitRef, amount, hadEscrow := order.EscrowDebitedRef()
	if hadEscrow && e.MockMode {
		if err := e.Ledger.Credit(ctx, tx, debitRef, amount, order.CryptoCurrency); err != nil {
			return nil, err
		}
		if err := e.Ledger.RecordLedger(ctx, tx, store.LedgerEntry{
			ID: uuid.NewString(), RelatedOrderID: order.ID, EntryType: domain.LedgerEscrowRefund,
			Amount: amount, Currency: order.CryptoCurrency,
			CreditedEntityType: debitRef.Kind, CreditedEntityID: debitRef.ID,
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
	}
	if !hadEscrow && statemachine.RestoreLiquidityOnExit(order.Status, to) {
		if err := e.Offers.RestoreLiquidity(ctx, tx, order.OfferID, order.CryptoAmount); err != nil {
			return nil, err
		}
	}

	cancelledBy := req.Actor.Kind
	updated, err := e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, store.Patch{
		Status:             to,
		RefundTxHash:       strPtrOrNil(req.RefundTxHash),
		CancelledAt:        &now,
		CancelledBy:        &cancelledBy,
		CancellationReason: strPtrOrNil(req.Reason),
	})
	if err != nil {
		return nil, err
	}

	eventType := "status_changed_to_" + string(to)
	if err := e.Events.Append(ctx, tx, store.OrderEvent{
		ID: uuid.NewString(), OrderID: order.ID, EventType: eventType,
		ActorType: req.Actor.Kind, ActorID: req.Actor.ID, OldStatus: order.Status, NewStatus: to,
		Metadata: req.Reason, CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	payload, err := outbox.Marshal(outbox.NewPayload(updated.ID, updated.UserID, updated.MerchantID,
		updated.Status, statusmap.ToPublic(updated.Status), updated.OrderVersion, order.Status, req.RefundTxHash))
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "marshal outbox payload", err)
	}
	row := store.OutboxRow{ID: uuid.NewString(), OrderID: updated.ID, EventType: domain.OutboxEventForStatus(to), Payload: payload}
	if err := e.Outbox.Enqueue(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit refund", err)
	}

	if err := e.verifyRefund(ctx, updated.ID, order.OrderVersion, to); err != nil {
		return nil, err
	}
	return &Result{Order: updated, Notifications: []store.OutboxRow{row}}, nil
}
