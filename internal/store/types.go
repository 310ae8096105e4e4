package store

import (
	"time"

	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
)

// Order is the central entity described in spec.md §3.
type Order struct {
	ID                  string
	OrderNumber         int64
	UserID              string
	MerchantID          string
	BuyerMerchantID     string
	OfferID             string
	Side                domain.Side
	PaymentMethod       domain.PaymentMethod
	CryptoAmount        money.Amount
	CryptoCurrency      string
	FiatAmount          money.Amount
	FiatCurrency        string
	Rate                money.Amount
	PlatformFee         money.Amount
	NetworkFee          money.Amount
	Status              domain.Status
	OrderVersion        int64

	EscrowTxHash             string
	EscrowAddress            string
	EscrowTradeID            string
	EscrowTradePDA           string
	EscrowPDA                string
	EscrowCreatorWallet      string
	EscrowDebitedEntityType  domain.EntityKind
	EscrowDebitedEntityID    string
	EscrowDebitedAmount      money.Amount

	ReleaseTxHash string
	RefundTxHash  string

	BuyerWalletAddress    string
	AcceptorWalletAddress string
	PaymentDetails        string

	ProtocolFeeAmount     money.Amount
	ProtocolFeePercentage money.Amount
	SpreadPreference      domain.SpreadPreference

	ExtensionCount int
	MaxExtensions  int

	CreatedAt           time.Time
	AcceptedAt          *time.Time
	EscrowedAt          *time.Time
	PaymentSentAt       *time.Time
	PaymentConfirmedAt  *time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	ExpiresAt           *time.Time

	CancelledBy         domain.ActorKind
	CancellationReason  string
}

// EscrowDebitedRef reconstructs the (kind, id, amount) triple recorded at
// lock-time, which refund must use even if roles changed afterward
// (spec.md §9).
func (o *Order) EscrowDebitedRef() (domain.EntityRef, money.Amount, bool) {
	if o.EscrowDebitedEntityType == "" || o.EscrowDebitedEntityID == "" {
		return domain.EntityRef{}, money.Zero, false
	}
	return domain.EntityRef{Kind: o.EscrowDebitedEntityType, ID: o.EscrowDebitedEntityID}, o.EscrowDebitedAmount, true
}

// BalanceAccount is one row per (owner_kind, owner_id, currency).
type BalanceAccount struct {
	OwnerKind      domain.EntityKind
	OwnerID        string
	Currency       string
	Balance        money.Amount
	LockedInEscrow money.Amount
	UpdatedAt      time.Time
}

// LedgerEntry is an append-only fund-movement record (spec.md §3).
type LedgerEntry struct {
	ID                 string
	RelatedOrderID      string
	EntryType          domain.LedgerEntryType
	Amount             money.Amount
	Currency           string
	DebitedEntityType  domain.EntityKind
	DebitedEntityID    string
	CreditedEntityType domain.EntityKind
	CreditedEntityID   string
	CreatedAt          time.Time
}

// OrderEvent is an append-only transition record (spec.md §3).
type OrderEvent struct {
	ID        string
	OrderID   string
	EventType string
	ActorType domain.ActorKind
	ActorID   string
	OldStatus domain.Status
	NewStatus domain.Status
	Metadata  string
	CreatedAt time.Time
}

// OutboxStatus is the lifecycle of a notification_outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxRow is a transactional-outbox notification (spec.md §3/§4.7).
type OutboxRow struct {
	ID            string
	OrderID       string
	EventType     domain.OutboxEventType
	Payload       string
	Status        OutboxStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// Offer is the minimal liquidity-tracking stub spec.md references
// (`merchant_offers.available_amount`) without implementing matching,
// which is out of scope (spec.md §1).
type Offer struct {
	ID              string
	MerchantID      string
	AvailableAmount money.Amount
	Currency        string
	UpdatedAt       time.Time
}

// Merchant is a minimal account-provisioning record supplementing spec.md's
// Balance Account model with the identity row it presumes exists.
type Merchant struct {
	ID                    string
	Name                  string
	APIKey                string
	MerchantWalletAddress string
	CreatedAt             time.Time
}

// User mirrors Merchant for the buy-side party.
type User struct {
	ID            string
	Name          string
	APIKey        string
	WalletAddress string
	CreatedAt     time.Time
}
