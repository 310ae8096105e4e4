package finalize

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/outbox"
	"github.com/oxzoid/ospay-core/internal/statusmap"
	"github.com/oxzoid/ospay-core/internal/store"
)

var releaseEligible = map[domain.Status]bool{
	domain.StatusEscrowed:         true,
	domain.StatusPaymentSent:      true,
	domain.StatusPaymentConfirmed: true,
	domain.StatusReleasing:        true,
}

// Release is spec.md §4.5.2: pays escrowed funds out to the counterparty
// net of protocol fee, credits the platform fee account, and moves the
// order to completed. This is the one place a money-losing bug can hide in
// the gap between "funds moved" and "status says completed" (spec.md §4.5
// preamble) — both happen in the one transaction below, or neither does.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (*Result, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := e.Orders.LoadForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}
	// Checked before the general eligibility gate: once a release commits,
	// order.Status moves to completed (not in releaseEligible), so a second
	// concurrent caller landing here after the winner's commit must still be
	// told specifically ALREADY_RELEASED rather than a generic
	// status-invalid error (spec.md §8 scenario 6).
	if order.ReleaseTxHash != "" {
		return nil, coreerr.Conflict(coreerr.CodeAlreadyReleased, order.ID, "escrow already released")
	}
	if !releaseEligible[order.Status] {
		return nil, coreerr.Denied(coreerr.CodeStatusInvalid, order.ID, "order is not eligible for release from status "+string(order.Status))
	}

	recipient := recipientForRelease(order)
	net := order.CryptoAmount.Sub(order.ProtocolFeeAmount)
	now := time.Now().UTC()

	if e.MockMode {
		if err := e.Ledger.Credit(ctx, tx, recipient, net, order.CryptoCurrency); err != nil {
			return nil, err
		}
		if err := e.Ledger.RecordLedger(ctx, tx, store.LedgerEntry{
			ID: uuid.NewString(), RelatedOrderID: order.ID, EntryType: domain.LedgerEscrowRelease,
			Amount: net, Currency: order.CryptoCurrency,
			CreditedEntityType: recipient.Kind, CreditedEntityID: recipient.ID,
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
		if order.ProtocolFeeAmount.IsPositive() {
			if err := e.Ledger.PlatformFee(ctx, tx, uuid.NewString(), order.ProtocolFeeAmount, order.ProtocolFeePercentage, order.CryptoCurrency, order.ID, order.SpreadPreference); err != nil {
				return nil, err
			}
			if err := e.Ledger.RecordLedger(ctx, tx, store.LedgerEntry{
				ID: uuid.NewString(), RelatedOrderID: order.ID, EntryType: domain.LedgerPlatformFee,
				Amount: order.ProtocolFeeAmount, Currency: order.CryptoCurrency,
				CreditedEntityType: domain.EntityPlatform, CreditedEntityID: domain.PlatformRef.ID,
				CreatedAt: now,
			}); err != nil {
				return nil, err
			}
		}
	} else {
		destAddr := order.AcceptorWalletAddress
		if destAddr == "" {
			destAddr = order.BuyerWalletAddress
		}
		ok, err := e.Verifier.VerifyTransfer(ctx, req.ReleaseTxHash, destAddr, net.BigIntAtScale(onChainDecimals))
		if err != nil || !ok {
			return nil, coreerr.Denied(coreerr.CodeValidation, order.ID, "on-chain release transfer could not be verified")
		}
	}

	if err := e.TradeStats.IncrementCompleted(ctx, tx, recipient, order.CryptoCurrency, order.CryptoAmount); err != nil {
		return nil, err
	}

	paymentConfirmedAt := order.PaymentConfirmedAt
	if paymentConfirmedAt == nil {
		paymentConfirmedAt = &now
	}
	updated, err := e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, store.Patch{
		Status:             domain.StatusCompleted,
		ReleaseTxHash:      &req.ReleaseTxHash,
		CompletedAt:        &now,
		PaymentConfirmedAt: paymentConfirmedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := e.Events.Append(ctx, tx, store.OrderEvent{
		ID: uuid.NewString(), OrderID: order.ID, EventType: "status_changed_to_completed",
		ActorType: req.Actor.Kind, ActorID: req.Actor.ID, OldStatus: order.Status, NewStatus: domain.StatusCompleted,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	payload, err := outbox.Marshal(outbox.NewPayload(updated.ID, updated.UserID, updated.MerchantID,
		updated.Status, statusmap.ToPublic(updated.Status), updated.OrderVersion, order.Status, req.ReleaseTxHash))
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "marshal outbox payload", err)
	}
	row := store.OutboxRow{ID: uuid.NewString(), OrderID: updated.ID, EventType: domain.EventOrderCompleted, Payload: payload}
	if err := e.Outbox.Enqueue(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, order.ID, "commit release", err)
	}

	if err := e.verifyRelease(ctx, updated.ID, order.OrderVersion, req.ReleaseTxHash); err != nil {
		return nil, err
	}
	return &Result{Order: updated, Notifications: []store.OutboxRow{row}}, nil
}
