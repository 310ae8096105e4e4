package finalize

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
	"github.com/oxzoid/ospay-core/internal/obs"
	"github.com/oxzoid/ospay-core/internal/store"
)

// stubVerifier stands in for an on-chain wallet adapter and reports
// whatever ok/err it was built with; newTestEngine builds it with ok: true.
type stubVerifier struct {
	ok  bool
	err error
}

func (s stubVerifier) VerifyTransfer(ctx context.Context, txHash, destAddress string, expectedAmount *big.Int) (bool, error) {
	return s.ok, s.err
}

func newTestEngine(t *testing.T, mockMode bool) *Engine {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "finalize_test.db")
	db, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	return NewEngine(db, mockMode, stubVerifier{ok: true}, obs.Default())
}

func mustCredit(t *testing.T, e *Engine, ref domain.EntityRef, amount money.Amount, currency string) {
	t.Helper()
	tx, err := e.begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Ledger.Credit(context.Background(), tx, ref, amount, currency))
	require.NoError(t, tx.Commit())
}

// seedOrder takes an optional trailing feePercentage (defaulting to zero)
// so the handful of tests that care about platform_fee_transactions'
// fee_percentage column don't force every other call site to spell it out.
func seedOrder(t *testing.T, e *Engine, side domain.Side, merchantID, userID string, cryptoAmount, fee money.Amount, feePercentage ...money.Amount) *store.Order {
	t.Helper()
	pct := money.Zero
	if len(feePercentage) > 0 {
		pct = feePercentage[0]
	}
	tx, err := e.begin(context.Background())
	require.NoError(t, err)
	o := &store.Order{
		ID:                    uuid.NewString(),
		OrderNumber:           1,
		UserID:                userID,
		MerchantID:            merchantID,
		Side:                  side,
		PaymentMethod:         domain.PaymentBank,
		CryptoAmount:          cryptoAmount,
		CryptoCurrency:        "USDT",
		FiatAmount:            money.FromInt(100),
		FiatCurrency:          "USD",
		Rate:                  money.FromInt(1),
		PlatformFee:           money.Zero,
		NetworkFee:            money.Zero,
		Status:                domain.StatusPending,
		OrderVersion:          1,
		ProtocolFeeAmount:     fee,
		ProtocolFeePercentage: pct,
		SpreadPreference:      domain.SpreadBest,
		MaxExtensions:         3,
		CreatedAt:             time.Now().UTC(),
	}
	require.NoError(t, e.Orders.Insert(context.Background(), tx, o))
	require.NoError(t, tx.Commit())
	reloaded, err := e.Orders.Load(context.Background(), o.ID)
	require.NoError(t, err)
	return reloaded
}

func TestEscrowLockThenRelease_ConservesBalance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)

	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	userRef := domain.EntityRef{Kind: domain.EntityUser, ID: "u1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")

	amount := money.MustNew("50")
	fee := money.MustNew("1")
	feePct := money.MustNew("2")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, userRef.ID, amount, fee, feePct)

	lockRes, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusEscrowed, lockRes.Order.Status)

	merchantBal, err := e.Ledger.Balance(ctx, mustTx(t, e), merchantRef, "USDT")
	require.NoError(t, err)
	require.True(t, merchantBal.Equal(money.MustNew("950")), "merchant balance after lock: %s", merchantBal)

	releaseRes, err := e.Release(ctx, ReleaseRequest{OrderID: order.ID, Actor: domain.System(), ReleaseTxHash: "0xrelease"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, releaseRes.Order.Status)

	userBal, err := e.Ledger.Balance(ctx, mustTx(t, e), userRef, "USDT")
	require.NoError(t, err)
	require.True(t, userBal.Equal(money.MustNew("49")), "user balance after release: %s", userBal)

	platformBal, err := e.Ledger.Balance(ctx, mustTx(t, e), domain.PlatformRef, "USDT")
	require.NoError(t, err)
	require.True(t, platformBal.Equal(fee), "platform fee balance: %s", platformBal)

	require.Len(t, releaseRes.Notifications, 1)
	require.Equal(t, domain.EventOrderCompleted, releaseRes.Notifications[0].EventType)

	var storedFeePercentage string
	require.NoError(t, e.db.QueryRowContext(ctx,
		`SELECT fee_percentage FROM platform_fee_transactions WHERE order_id = ?`, order.ID,
	).Scan(&storedFeePercentage))
	require.Equal(t, feePct.String(), storedFeePercentage, "fee_percentage audit column must record the order's protocol fee percentage")
}

func TestEscrowLock_InsufficientBalanceDenied(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideSell, "poor-merchant", "u1", money.MustNew("50"), money.Zero)

	_, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: "poor-merchant"}, EscrowTxHash: "0xlock"})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeInsufficientBalance, ce.Code)
}

func TestEscrowLock_AlreadyEscrowedRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, "u1", money.MustNew("50"), money.Zero)

	_, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)

	_, err = e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock2"})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeAlreadyEscrowed, ce.Code)
}

func TestRefund_ReversesEscrowAndCancels(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, "u1", money.MustNew("50"), money.Zero)

	_, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)

	res, err := e.Refund(ctx, RefundRequest{OrderID: order.ID, Actor: domain.System(), Reason: "buyer timed out"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, res.Order.Status)

	bal, err := e.Ledger.Balance(ctx, mustTx(t, e), merchantRef, "USDT")
	require.NoError(t, err)
	require.True(t, bal.Equal(money.FromInt(1000)), "merchant balance should be fully restored: %s", bal)

	n, err := e.Events.CountByOrderAndType(ctx, e.db, order.ID, "status_changed_to_cancelled")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = e.Outbox.CountByOrderAndEventType(ctx, order.ID, domain.EventOrderCancelled)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPatchStatus_ExpiryWithActiveEscrowReversesLock(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, "u1", money.MustNew("50"), money.Zero)

	_, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)

	res, err := e.PatchStatus(ctx, PatchStatusRequest{OrderID: order.ID, Actor: domain.System(), To: domain.StatusExpired})
	require.NoError(t, err)
	require.Equal(t, domain.StatusExpired, res.Order.Status, "expiry sweep must land on expired, not cancelled, even when delegating to refund")

	bal, err := e.Ledger.Balance(ctx, mustTx(t, e), merchantRef, "USDT")
	require.NoError(t, err)
	require.True(t, bal.Equal(money.FromInt(1000)), "escrowed collateral must be fully reversed on expiry: %s", bal)

	n, err := e.Events.CountByOrderAndType(ctx, e.db, order.ID, "status_changed_to_expired")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = e.Outbox.CountByOrderAndEventType(ctx, order.ID, domain.EventOrderExpired)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCancelSimple_NoEscrowNoLedgerMovement(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideBuy, "m1", "u1", money.MustNew("50"), money.Zero)

	res, err := e.CancelSimple(ctx, CancelSimpleRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorUser, ID: "u1"}, Reason: "changed my mind"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, res.Order.Status)
	require.Equal(t, domain.ActorUser, res.Order.CancelledBy)
}

func TestCancelSimple_RejectsIfEscrowActive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, "u1", money.MustNew("50"), money.Zero)
	_, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)

	_, err = e.CancelSimple(ctx, CancelSimpleRequest{OrderID: order.ID, Actor: domain.System(), Reason: "oops"})
	require.Error(t, err)
}

func TestPatchStatus_SameStatusIsIdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideBuy, "m1", "u1", money.MustNew("50"), money.Zero)

	res, err := e.PatchStatus(ctx, PatchStatusRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: "m1"}, To: domain.StatusPending})
	require.NoError(t, err)
	require.Equal(t, order.OrderVersion, res.Order.OrderVersion)
	require.Empty(t, res.Notifications)
}

func TestPatchStatus_AcceptSetsMerchantAndExpiry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideBuy, "", "u1", money.MustNew("50"), money.Zero)

	res, err := e.PatchStatus(ctx, PatchStatusRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: "m1"}, To: domain.StatusAccepted})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, res.Order.Status)
	require.Equal(t, "m1", res.Order.MerchantID)
	require.NotNil(t, res.Order.ExpiresAt)
}

func TestPatchStatus_RejectsTransitionNotInTable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideBuy, "m1", "u1", money.MustNew("50"), money.Zero)

	_, err := e.PatchStatus(ctx, PatchStatusRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorUser, ID: "u1"}, To: domain.StatusCompleted})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeStatusInvalid, ce.Code)
}

func TestVersionConflict_ConcurrentApplyFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)
	order := seedOrder(t, e, domain.SideBuy, "m1", "u1", money.MustNew("50"), money.Zero)

	tx, err := e.begin(ctx)
	require.NoError(t, err)
	_, err = e.Orders.Apply(ctx, tx, order.ID, order.OrderVersion, store.Patch{Status: domain.StatusCancelled})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := e.begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback()
	_, err = e.Orders.Apply(ctx, tx2, order.ID, order.OrderVersion, store.Patch{Status: domain.StatusExpired})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeVersionConflict, ce.Code)
}

// TestRelease_ConcurrentCallsExactlyOneSucceeds is spec.md §8 scenario 6:
// two callers racing release(O) on the same escrowed order must leave
// exactly one winner, with the loser rejected as ALREADY_RELEASED rather
// than both succeeding or both silently failing.
func TestRelease_ConcurrentCallsExactlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, true)

	merchantRef := domain.EntityRef{Kind: domain.EntityMerchant, ID: "m1"}
	mustCredit(t, e, merchantRef, money.FromInt(1000), "USDT")
	order := seedOrder(t, e, domain.SideSell, merchantRef.ID, "u1", money.MustNew("50"), money.Zero)

	lockRes, err := e.EscrowLock(ctx, EscrowLockRequest{OrderID: order.ID, Actor: domain.Actor{Kind: domain.ActorMerchant, ID: merchantRef.ID}, EscrowTxHash: "0xlock"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusEscrowed, lockRes.Order.Status)

	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Release(ctx, ReleaseRequest{OrderID: order.ID, Actor: domain.System(), ReleaseTxHash: fmt.Sprintf("0xrelease-%d", i)})
		}(i)
	}
	wg.Wait()

	successes, alreadyReleased := 0, 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		ce, ok := coreerr.As(err)
		require.True(t, ok, "unexpected error type: %v", err)
		require.Equal(t, coreerr.CodeAlreadyReleased, ce.Code)
		alreadyReleased++
	}
	require.Equal(t, 1, successes, "exactly one concurrent release must succeed")
	require.Equal(t, racers-1, alreadyReleased, "every other concurrent release must be rejected as already released")

	final, err := e.Orders.Load(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, final.Status)
}

// mustTx is a test-only convenience: Ledger.Balance requires a *sql.Tx even
// for a read, since every C4 method composes inside the caller's single
// transaction (spec.md §4.4). Tests that only want to observe state open a
// short-lived one and roll it back.
func mustTx(t *testing.T, e *Engine) *sql.Tx {
	t.Helper()
	tx, err := e.db.BeginTx(context.Background(), &sql.TxOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}
