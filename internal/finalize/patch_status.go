package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/statemachine"
	"github.com/oxzoid/ospay-core/internal/statusmap"
	"github.com/oxzoid/ospay-core/internal/store"
)

// extendsExpiry are transitions whose arrival resets the expiry clock
// (spec.md §4.5.5 step 5, §3's escrow expiry window).
var extendsExpiry = map[domain.Status]bool{
	domain.StatusAccepted: true,
	domain.StatusEscrowed: true,
}

// PatchStatus is spec.md §4.5.5's general transition path: every
// transition not better expressed as escrow_lock/release/refund/
// cancel_simple routes through here, including merchant reassignment and
// idempotent no-ops (P7).
func (e *Engine) PatchStatus(ctx context.Context, req PatchStatusRequest) (*Result, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := e.Orders.LoadForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if order.Status == req.To {
		if err := tx.Commit(); err != nil {
			return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit no-op patch_status", err)
		}
		return &Result{Order: order}, nil
	}

	decision := statemachine.Validate(order.Status, req.To, req.Actor)
	if !decision.OK {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "transition "+string(order.Status)+" -> "+string(req.To)+" denied: "+decision.Reason)
	}

	// cancel_simple/refund own every path into cancelled or expired that
	// carries an active escrow lock: delegate so the ledger reversal and
	// the status write stay in one transaction. An expired order with
	// locked collateral gets the same treatment as a cancelled one — the
	// lock must always be reversed by the same path, or it's left hanging
	// with no corresponding credit (P3/P4).
	if req.To == domain.StatusCancelled || req.To == domain.StatusExpired {
		_, _, hadEscrow := order.EscrowDebitedRef()
		if hadEscrow {
			tx.Rollback()
			return e.Refund(ctx, RefundRequest{OrderID: req.OrderID, Actor: req.Actor, Reason: req.Metadata, To: req.To})
		}
		if req.To == domain.StatusCancelled {
			tx.Rollback()
			return e.CancelSimple(ctx, CancelSimpleRequest{OrderID: req.OrderID, Actor: req.Actor, Reason: req.Metadata})
		}
	}

	if req.To == domain.StatusCompleted && order.ReleaseTxHash == "" {
		return nil, coreerr.Denied(coreerr.CodeCannotCompleteNoRelease, order.ID, "cannot complete an order with no recorded release")
	}

	now := time.Now().UTC()
	patch := store.Patch{Status: req.To}

	if req.Actor.Kind == domain.ActorMerchant && req.Actor.ID != "" && req.Actor.ID != order.MerchantID {
		if order.BuyerMerchantID == "" && order.MerchantID != "" && order.MerchantID != req.Actor.ID {
			id := req.Actor.ID
			patch.BuyerMerchantID = &id
		} else {
			id := req.Actor.ID
			patch.MerchantID = &id
		}
		if req.AcceptorWalletAddress != "" {
			patch.AcceptorWalletAddress = &req.AcceptorWalletAddress
		}
	}

	switch req.To {
	case domain.StatusAccepted:
		patch.AcceptedAt = &now
	case domain.StatusPaymentSent:
		patch.PaymentSentAt = &now
	case domain.StatusPaymentConfirmed:
		patch.PaymentConfirmedAt = &now
	}
	if extendsExpiry[req.To] {
		expires := now.Add(config.EscrowExpiry)
		patch.ExpiresAt = &expires
	}

	if statemachine.RestoreLiquidityOnExit(order.Status, req.To) {
		if err := e.Offers.RestoreLiquidity(ctx, tx, order.OfferID, order.CryptoAmount); err != nil {
			return nil, err
		}
	}

	updated, err := e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, patch)
	if err != nil {
		return nil, err
	}

	eventType := "status_changed_to_" + string(req.To)
	if err := e.Events.Append(ctx, tx, store.OrderEvent{
		ID: uuid.NewString(), OrderID: order.ID, EventType: eventType,
		ActorType: req.Actor.Kind, ActorID: req.Actor.ID, OldStatus: order.Status, NewStatus: req.To,
		Metadata: req.Metadata, CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	payload, err := outbox.Marshal(outbox.NewPayload(updated.ID, updated.UserID, updated.MerchantID,
		updated.Status, statusmap.ToPublic(updated.Status), updated.OrderVersion, order.Status, ""))
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "marshal outbox payload", err)
	}
	row := store.OutboxRow{ID: uuid.NewString(), OrderID: updated.ID, EventType: domain.OutboxEventForStatus(req.To), Payload: payload}
	if err := e.Outbox.Enqueue(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit patch_status", err)
	}
	return &Result{Order: updated, Notifications: []store.OutboxRow{row}}, nil
}
