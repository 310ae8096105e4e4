package finalize

import (
	"github.com/oxzoid/ospay-core/internal/domain"
)

// EscrowLockRequest is the command contract for spec.md §4.5.1.
type EscrowLockRequest struct {
	OrderID       string
	Actor         domain.Actor
	EscrowTxHash  string
	Address       string
	TradeID       string
	TradePDA      string
	PDA           string
	CreatorWallet string
}

// ReleaseRequest is the command contract for spec.md §4.5.2.
type ReleaseRequest struct {
	OrderID       string
	Actor         domain.Actor
	ReleaseTxHash string
}

// RefundRequest is the command contract for spec.md §4.5.3. To defaults to
// cancelled; patch_status also routes an escrow-locked order expiring
// through here with To set to expired, so the lock is always reversed by
// this one path regardless of which terminal status it lands on.
type RefundRequest struct {
	OrderID      string
	Actor        domain.Actor
	Reason       string
	RefundTxHash string
	To           domain.Status
}

// CancelSimpleRequest is the command contract for spec.md §4.5.4.
type CancelSimpleRequest struct {
	OrderID string
	Actor   domain.Actor
	Reason  string
}

// PatchStatusRequest is the command contract for spec.md §4.5.5's general
// transition path.
type PatchStatusRequest struct {
	OrderID               string
	Actor                 domain.Actor
	To                    domain.Status
	AcceptorWalletAddress string
	Metadata              string
}
