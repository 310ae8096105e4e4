package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so load-only helpers
// can run against either. Mutating helpers that implement C3's
// load_for_update/apply contracts always take a *sql.Tx because the single-
// writer discipline (spec.md §5) requires the row lock and the write to
// share one transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const orderColumns = `
	id, order_number, user_id, merchant_id, buyer_merchant_id, offer_id, type, payment_method,
	crypto_amount, crypto_currency, fiat_amount, fiat_currency, rate, platform_fee, network_fee,
	status, order_version,
	escrow_tx_hash, escrow_address, escrow_trade_id, escrow_trade_pda, escrow_pda, escrow_creator_wallet,
	escrow_debited_entity_type, escrow_debited_entity_id, escrow_debited_amount,
	release_tx_hash, refund_tx_hash, buyer_wallet_address, acceptor_wallet_address, payment_details,
	protocol_fee_amount, protocol_fee_percentage, spread_preference, extension_count, max_extensions,
	created_at, accepted_at, escrowed_at, payment_sent_at, payment_confirmed_at, completed_at,
	cancelled_at, expires_at, cancelled_by, cancellation_reason
`

func scanOrder(row *sql.Row) (*Order, error) {
	var (
		o                                                                           Order
		merchantID, buyerMerchantID, offerID                                        sql.NullString
		escrowTxHash, escrowAddress, escrowTradeID, escrowTradePDA, escrowPDA        sql.NullString
		escrowCreatorWallet, escrowDebitedEntityType, escrowDebitedEntityID          sql.NullString
		escrowDebitedAmount                                                         sql.NullString
		releaseTxHash, refundTxHash, buyerWalletAddress, acceptorWalletAddress       sql.NullString
		paymentDetails, cancelledBy, cancellationReason                             sql.NullString
		acceptedAt, escrowedAt, paymentSentAt, paymentConfirmedAt                    sql.NullString
		completedAt, cancelledAt, expiresAt                                         sql.NullString
		createdAt                                                                   string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &merchantID, &buyerMerchantID, &offerID, &o.Side, &o.PaymentMethod,
		&o.CryptoAmount, &o.CryptoCurrency, &o.FiatAmount, &o.FiatCurrency, &o.Rate, &o.PlatformFee, &o.NetworkFee,
		&o.Status, &o.OrderVersion,
		&escrowTxHash, &escrowAddress, &escrowTradeID, &escrowTradePDA, &escrowPDA, &escrowCreatorWallet,
		&escrowDebitedEntityType, &escrowDebitedEntityID, &escrowDebitedAmount,
		&releaseTxHash, &refundTxHash, &buyerWalletAddress, &acceptorWalletAddress, &paymentDetails,
		&o.ProtocolFeeAmount, &o.ProtocolFeePercentage, &o.SpreadPreference, &o.ExtensionCount, &o.MaxExtensions,
		&createdAt, &acceptedAt, &escrowedAt, &paymentSentAt, &paymentConfirmedAt, &completedAt,
		&cancelledAt, &expiresAt, &cancelledBy, &cancellationReason,
	)
	if err != nil {
		return nil, err
	}
	o.MerchantID = merchantID.String
	o.BuyerMerchantID = buyerMerchantID.String
	o.OfferID = offerID.String
	o.EscrowTxHash = escrowTxHash.String
	o.EscrowAddress = escrowAddress.String
	o.EscrowTradeID = escrowTradeID.String
	o.EscrowTradePDA = escrowTradePDA.String
	o.EscrowPDA = escrowPDA.String
	o.EscrowCreatorWallet = escrowCreatorWallet.String
	o.EscrowDebitedEntityType = domain.EntityKind(escrowDebitedEntityType.String)
	o.EscrowDebitedEntityID = escrowDebitedEntityID.String
	if escrowDebitedAmount.Valid {
		if a, err := money.New(escrowDebitedAmount.String); err == nil {
			o.EscrowDebitedAmount = a
		}
	}
	o.ReleaseTxHash = releaseTxHash.String
	o.RefundTxHash = refundTxHash.String
	o.BuyerWalletAddress = buyerWalletAddress.String
	o.AcceptorWalletAddress = acceptorWalletAddress.String
	o.PaymentDetails = paymentDetails.String
	o.CancelledBy = domain.ActorKind(cancelledBy.String)
	o.CancellationReason = cancellationReason.String

	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.AcceptedAt = parseNullTime(acceptedAt)
	o.EscrowedAt = parseNullTime(escrowedAt)
	o.PaymentSentAt = parseNullTime(paymentSentAt)
	o.PaymentConfirmedAt = parseNullTime(paymentConfirmedAt)
	o.CompletedAt = parseNullTime(completedAt)
	o.CancelledAt = parseNullTime(cancelledAt)
	o.ExpiresAt = parseNullTime(expiresAt)
	return &o, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Orders provides C3's persistence contracts against a single database.
type Orders struct {
	db *sql.DB
}

func NewOrders(db *sql.DB) *Orders { return &Orders{db: db} }

// Load returns the current snapshot with no lock held (read path for C10).
func (s *Orders) Load(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.NotFound(id)
	}
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, id, "load order", err)
	}
	return o, nil
}

// LoadForUpdate issues SELECT ... FOR UPDATE semantics inside tx: SQLite has
// no row-level locking syntax, so the single-writer discipline (spec.md §5)
// is provided by BEGIN IMMEDIATE acquiring the database's sole write lock
// before this SELECT runs; every finalization operation opens its
// transaction at sql.LevelSerializable (see finalize.Engine.begin), which
// modernc.org/sqlite maps to BEGIN IMMEDIATE, so this read is already
// serialized against every other writer by the time it executes.
func (s *Orders) LoadForUpdate(ctx context.Context, tx *sql.Tx, id string) (*Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.NotFound(id)
	}
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, id, "load order for update", err)
	}
	return o, nil
}

// Patch is the set of fields Apply may change. Nil/zero-value pointer
// fields are left untouched; Status/OrderVersion are always written when a
// Patch is applied (spec.md §4.3).
type Patch struct {
	Status domain.Status

	MerchantID      *string
	BuyerMerchantID *string

	EscrowTxHash            *string
	EscrowAddress           *string
	EscrowTradeID           *string
	EscrowTradePDA          *string
	EscrowPDA               *string
	EscrowCreatorWallet     *string
	EscrowDebitedEntityType *domain.EntityKind
	EscrowDebitedEntityID   *string
	EscrowDebitedAmount     *money.Amount

	ReleaseTxHash *string
	RefundTxHash  *string

	AcceptorWalletAddress *string

	ExtensionCount *int

	AcceptedAt         *time.Time
	EscrowedAt         *time.Time
	PaymentSentAt      *time.Time
	PaymentConfirmedAt *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	ExpiresAt          *time.Time

	CancelledBy        *domain.ActorKind
	CancellationReason *string
}

// Apply writes patch against order_id inside tx, bumping order_version by
// exactly 1 and enforcing the write-once guards on escrow_tx_hash and
// release_tx_hash (spec.md §4.3). expectedVersion implements the optimistic
// check: if the row's current version doesn't match, Apply fails with
// VERSION_CONFLICT and nothing is written.
func (s *Orders) Apply(ctx context.Context, tx *sql.Tx, id string, expectedVersion int64, patch Patch) (*Order, error) {
	current, err := s.LoadForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.OrderVersion != expectedVersion {
		return nil, coreerr.Conflict(coreerr.CodeVersionConflict, id, fmt.Sprintf("expected version %d, found %d", expectedVersion, current.OrderVersion))
	}
	if patch.EscrowTxHash != nil && current.EscrowTxHash != "" {
		return nil, coreerr.Conflict(coreerr.CodeAlreadyEscrowed, id, "escrow_tx_hash already set")
	}
	if patch.ReleaseTxHash != nil && current.ReleaseTxHash != "" {
		return nil, coreerr.Conflict(coreerr.CodeAlreadyReleased, id, "release_tx_hash already set")
	}

	sets := []string{"status = ?", "order_version = order_version + 1"}
	args := []any{string(patch.Status)}

	addStr := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, nullStr(*v))
		}
	}
	addTime := func(col string, v *time.Time) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, nullTime(v))
		}
	}

	addStr("merchant_id", patch.MerchantID)
	addStr("buyer_merchant_id", patch.BuyerMerchantID)
	addStr("escrow_tx_hash", patch.EscrowTxHash)
	addStr("escrow_address", patch.EscrowAddress)
	addStr("escrow_trade_id", patch.EscrowTradeID)
	addStr("escrow_trade_pda", patch.EscrowTradePDA)
	addStr("escrow_pda", patch.EscrowPDA)
	addStr("escrow_creator_wallet", patch.EscrowCreatorWallet)
	if patch.EscrowDebitedEntityType != nil {
		sets = append(sets, "escrow_debited_entity_type = ?")
		args = append(args, string(*patch.EscrowDebitedEntityType))
	}
	addStr("escrow_debited_entity_id", patch.EscrowDebitedEntityID)
	if patch.EscrowDebitedAmount != nil {
		sets = append(sets, "escrow_debited_amount = ?")
		args = append(args, patch.EscrowDebitedAmount.String())
	}
	addStr("release_tx_hash", patch.ReleaseTxHash)
	addStr("refund_tx_hash", patch.RefundTxHash)
	addStr("acceptor_wallet_address", patch.AcceptorWalletAddress)
	if patch.ExtensionCount != nil {
		sets = append(sets, "extension_count = ?")
		args = append(args, *patch.ExtensionCount)
	}
	addTime("accepted_at", patch.AcceptedAt)
	addTime("escrowed_at", patch.EscrowedAt)
	addTime("payment_sent_at", patch.PaymentSentAt)
	addTime("payment_confirmed_at", patch.PaymentConfirmedAt)
	addTime("completed_at", patch.CompletedAt)
	addTime("cancelled_at", patch.CancelledAt)
	addTime("expires_at", patch.ExpiresAt)
	if patch.CancelledBy != nil {
		sets = append(sets, "cancelled_by = ?")
		args = append(args, string(*patch.CancelledBy))
	}
	addStr("cancellation_reason", patch.CancellationReason)

	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = ? AND order_version = ?`, strings.Join(sets, ", "))
	args = append(args, id, expectedVersion)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, coreerr.Fatal(coreerr.CodeTimeout, id, "apply order patch", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nil, coreerr.Conflict(coreerr.CodeVersionConflict, id, "order changed concurrently")
	}
	return s.LoadForUpdate(ctx, tx, id)
}

// NextOrderNumber returns a display-friendly monotonic integer. Not part of
// C3's core contract in spec.md, but order_number is a required column
// (spec.md §6) and needs a source; computed as MAX(order_number)+1 over the
// orders table inside the caller's transaction rather than from an
// autoincrement rowid alias.
func (s *Orders) NextOrderNumber(ctx context.Context, tx *sql.Tx) (int64, error) {
	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(order_number) FROM orders`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// ListExpirable returns IDs of non-terminal orders whose expires_at has
// passed asOf, for C9's expiry sweep (spec.md §4.9). Read-only: the worker
// re-acquires a row lock per order via PatchStatus before touching it.
func (s *Orders) ListExpirable(ctx context.Context, asOf time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status NOT IN (?, ?, ?) AND expires_at IS NOT NULL AND expires_at <= ?
	`, string(domain.StatusCompleted), string(domain.StatusCancelled), string(domain.StatusExpired), asOf.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Insert creates a new order row in status pending, taken over by the core
// at first mutation per spec.md §3's lifecycle note. Marketplace creation
// is out of scope; this is the seam C10 exposes for it.
func (s *Orders) Insert(ctx context.Context, tx *sql.Tx, o *Order) error {
	const q = `
		INSERT INTO orders (
			id, order_number, user_id, merchant_id, buyer_merchant_id, offer_id, type, payment_method,
			crypto_amount, crypto_currency, fiat_amount, fiat_currency, rate, platform_fee, network_fee,
			status, order_version,
			protocol_fee_amount, protocol_fee_percentage, spread_preference, extension_count, max_extensions,
			created_at, expires_at
		) VALUES (?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?, ?,?, ?,?,?,?,?, ?,?)
	`
	_, err := tx.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.UserID, nullStr(o.MerchantID), nullStr(o.BuyerMerchantID), nullStr(o.OfferID), string(o.Side), string(o.PaymentMethod),
		o.CryptoAmount.String(), o.CryptoCurrency, o.FiatAmount.String(), o.FiatCurrency, o.Rate.String(), o.PlatformFee.String(), o.NetworkFee.String(),
		string(o.Status), o.OrderVersion,
		o.ProtocolFeeAmount.String(), o.ProtocolFeePercentage.String(), string(o.SpreadPreference), o.ExtensionCount, o.MaxExtensions,
		o.CreatedAt.UTC().Format(time.RFC3339), nullTime(o.ExpiresAt),
	)
	return err
}
