package finalize

import (
	"context"
	"fmt"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
)

// verifyRelease is C8: a post-commit re-read that asserts release actually
// left the database in the state the caller's commit promised. A failure
// here means the commit above is suspect despite having returned no error —
// this is an alert-worthy condition, not a recoverable one, so it always
// raises coreerr.Fatal (spec.md §4.8).
func (e *Engine) verifyRelease(ctx context.Context, orderID string, versionBeforeCommit int64, releaseTxHash string) error {
	order, err := e.Orders.Load(ctx, orderID)
	if err != nil {
		return coreerr.Fatal(coreerr.CodeReleaseInvariantFailed, orderID, "release invariant check could not re-read order", err)
	}
	if order.Status != domain.StatusCompleted {
		return e.releaseInvariantFailed(orderID, fmt.Sprintf("expected status completed, found %s", order.Status))
	}
	if order.ReleaseTxHash != releaseTxHash {
		return e.releaseInvariantFailed(orderID, "release_tx_hash does not match the hash just committed")
	}
	if order.OrderVersion <= versionBeforeCommit {
		return e.releaseInvariantFailed(orderID, "order_version did not advance past the pre-commit version")
	}
	return nil
}

// verifyRefund is C8's counterpart for refund: exactly one terminal-status
// event and exactly one matching outbox row must exist for this order, or
// the refund's bookkeeping is split across more commits than one. to is
// whatever terminal status the refund landed on (cancelled, or expired when
// patch_status routed an escrow-locked expiry through here).
func (e *Engine) verifyRefund(ctx context.Context, orderID string, versionBeforeCommit int64, to domain.Status) error {
	order, err := e.Orders.Load(ctx, orderID)
	if err != nil {
		return coreerr.Fatal(coreerr.CodeRefundInvariantFailed, orderID, "refund invariant check could not re-read order", err)
	}
	if order.Status != to {
		return e.refundInvariantFailed(orderID, fmt.Sprintf("expected status %s, found %s", to, order.Status))
	}
	if order.OrderVersion <= versionBeforeCommit {
		return e.refundInvariantFailed(orderID, "order_version did not advance past the pre-commit version")
	}
	eventType := "status_changed_to_" + string(to)
	eventCount, err := e.Events.CountByOrderAndType(ctx, e.db, orderID, eventType)
	if err != nil {
		return coreerr.Fatal(coreerr.CodeRefundInvariantFailed, orderID, "refund invariant check could not count events", err)
	}
	if eventCount != 1 {
		return e.refundInvariantFailed(orderID, fmt.Sprintf("expected exactly one %s event, found %d", eventType, eventCount))
	}
	outboxType := domain.OutboxEventForStatus(to)
	outboxCount, err := e.Outbox.CountByOrderAndEventType(ctx, orderID, outboxType)
	if err != nil {
		return coreerr.Fatal(coreerr.CodeRefundInvariantFailed, orderID, "refund invariant check could not count outbox rows", err)
	}
	if outboxCount != 1 {
		return e.refundInvariantFailed(orderID, fmt.Sprintf("expected exactly one %s outbox row, found %d", outboxType, outboxCount))
	}
	return nil
}

func (e *Engine) releaseInvariantFailed(orderID, reason string) error {
	e.log.Alert("release invariant failed", "order_id", orderID, "reason", reason)
	return coreerr.Fatal(coreerr.CodeReleaseInvariantFailed, orderID, reason, nil)
}

func (e *Engine) refundInvariantFailed(orderID, reason string) error {
	e.log.Alert("refund invariant failed", "order_id", orderID, "reason", reason)
	return coreerr.Fatal(coreerr.CodeRefundInvariantFailed, orderID, reason, nil)
}
