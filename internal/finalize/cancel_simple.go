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

// CancelSimple is spec.md §4.5.4: cancels an order that never reached
// escrow, so there is no ledger movement to reverse — only, where
// applicable, restoring the originating offer's available liquidity.
func (e *Engine) CancelSimple(ctx context.Context, req CancelSimpleRequest) (*Result, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := e.Orders.LoadForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.EscrowTxHash != "" {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "order has an active escrow lock; use refund instead")
	}
	if statemachine.IsTerminal(order.Status) {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "order is already terminal: "+string(order.Status))
	}

	if statemachine.RestoreLiquidityOnExit(order.Status, domain.StatusCancelled) {
		if err := e.Offers.RestoreLiquidity(ctx, tx, order.OfferID, order.CryptoAmount); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	cancelledBy := req.Actor.Kind
	updated, err := e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, store.Patch{
		Status:             domain.StatusCancelled,
		CancelledAt:        &now,
		CancelledBy:        &cancelledBy,
		CancellationReason: strPtrOrNil(req.Reason),
	})
	if err != nil {
		return nil, err
	}

	if err := e.Events.Append(ctx, tx, store.OrderEvent{
		ID: uuid.NewString(), OrderID: order.ID, EventType: "status_changed_to_cancelled",
		ActorType: req.Actor.Kind, ActorID: req.Actor.ID, OldStatus: order.Status, NewStatus: domain.StatusCancelled,
		Metadata: req.Reason, CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	payload, err := outbox.Marshal(outbox.NewPayload(updated.ID, updated.UserID, updated.MerchantID,
		updated.Status, statusmap.ToPublic(updated.Status), updated.OrderVersion, order.Status, ""))
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "marshal outbox payload", err)
	}
	row := store.OutboxRow{ID: uuid.NewString(), OrderID: updated.ID, EventType: domain.EventOrderCancelled, Payload: payload}
	if err := e.Outbox.Enqueue(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit cancel", err)
	}
	return &Result{Order: updated, Notifications: []store.OutboxRow{row}}, nil
}
