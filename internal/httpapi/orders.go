package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oxzoid/ospay-core/internal/config"
	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/money"
	"github.com/oxzoid/ospay-core/internal/statusmap"
	"github.com/oxzoid/ospay-core/internal/store"
)

// orderCreateReq is the generalization of the teacher's orderCreateReq,
// carrying every field spec.md's Data Model (§3) requires instead of the
// teacher's single amount_minor/asset/chain triple.
type orderCreateReq struct {
	UserID                string       `json:"user_id"`
	MerchantID            string       `json:"merchant_id,omitempty"`
	OfferID               string       `json:"offer_id,omitempty"`
	Side                  string       `json:"side"`
	PaymentMethod         string       `json:"payment_method"`
	CryptoAmount          money.Amount `json:"crypto_amount"`
	CryptoCurrency        string       `json:"crypto_currency"`
	FiatAmount            money.Amount `json:"fiat_amount"`
	FiatCurrency          string       `json:"fiat_currency"`
	Rate                  money.Amount `json:"rate"`
	PlatformFee           money.Amount `json:"platform_fee,omitempty"`
	NetworkFee            money.Amount `json:"network_fee,omitempty"`
	ProtocolFeeAmount     money.Amount `json:"protocol_fee_amount,omitempty"`
	ProtocolFeePercentage money.Amount `json:"protocol_fee_percentage,omitempty"`
	SpreadPreference      string       `json:"spread_preference,omitempty"`
	BuyerWalletAddress    string       `json:"buyer_wallet_address,omitempty"`
	IdempotencyKey        string       `json:"idempotency_key"`
}

// orderView is the read shape returned by create/get, collapsing the
// internal status to its public form (C2) the way spec.md's external
// interface (§6) requires.
type orderView struct {
	ID                    string  `json:"id"`
	OrderNumber           int64   `json:"order_number"`
	UserID                string  `json:"user_id"`
	MerchantID            string  `json:"merchant_id,omitempty"`
	BuyerMerchantID       string  `json:"buyer_merchant_id,omitempty"`
	OfferID               string  `json:"offer_id,omitempty"`
	Side                  string  `json:"side"`
	PaymentMethod         string  `json:"payment_method"`
	CryptoAmount          string  `json:"crypto_amount"`
	CryptoCurrency        string  `json:"crypto_currency"`
	FiatAmount            string  `json:"fiat_amount"`
	FiatCurrency          string  `json:"fiat_currency"`
	Rate                  string  `json:"rate"`
	ProtocolFeeAmount     string  `json:"protocol_fee_amount"`
	Status                string  `json:"status"`
	MinimalStatus         string  `json:"minimal_status"`
	OrderVersion          int64   `json:"order_version"`
	EscrowTxHash          string  `json:"escrow_tx_hash,omitempty"`
	ReleaseTxHash         string  `json:"release_tx_hash,omitempty"`
	RefundTxHash          string  `json:"refund_tx_hash,omitempty"`
	AcceptorWalletAddress string  `json:"acceptor_wallet_address,omitempty"`
	ExtensionCount        int     `json:"extension_count"`
	MaxExtensions         int     `json:"max_extensions"`
	CreatedAt             string  `json:"created_at"`
	ExpiresAt             *string `json:"expires_at,omitempty"`
}

func toOrderView(o *store.Order) orderView {
	v := orderView{
		ID: o.ID, OrderNumber: o.OrderNumber, UserID: o.UserID, MerchantID: o.MerchantID,
		BuyerMerchantID: o.BuyerMerchantID, OfferID: o.OfferID, Side: string(o.Side),
		PaymentMethod: string(o.PaymentMethod), CryptoAmount: o.CryptoAmount.String(),
		CryptoCurrency: o.CryptoCurrency, FiatAmount: o.FiatAmount.String(), FiatCurrency: o.FiatCurrency,
		Rate: o.Rate.String(), ProtocolFeeAmount: o.ProtocolFeeAmount.String(),
		Status: string(o.Status), MinimalStatus: string(statusmap.ToPublic(o.Status)), OrderVersion: o.OrderVersion,
		EscrowTxHash: o.EscrowTxHash, ReleaseTxHash: o.ReleaseTxHash, RefundTxHash: o.RefundTxHash,
		AcceptorWalletAddress: o.AcceptorWalletAddress, ExtensionCount: o.ExtensionCount, MaxExtensions: o.MaxExtensions,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
	if o.ExpiresAt != nil {
		s := o.ExpiresAt.Format(time.RFC3339)
		v.ExpiresAt = &s
	}
	return v
}

// createOrderHandler godoc
// @Summary      Create a new order
// @Description  Opens a new order in pending status
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        order  body  orderCreateReq  true  "Order info"
// @Success      201  {object}  orderView
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders [post]
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req orderCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Side == "" || req.PaymentMethod == "" || req.CryptoCurrency == "" || req.FiatCurrency == "" {
		badRequest(w, "user_id, side, payment_method, crypto_currency, fiat_currency are required")
		return
	}
	if !req.CryptoAmount.IsPositive() {
		badRequest(w, "crypto_amount must be > 0")
		return
	}

	if stored, err := s.idempotency.Lookup(r.Context(), req.IdempotencyKey); err == nil && stored != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stored.Status)
		_, _ = w.Write([]byte(stored.Body))
		return
	}

	actor, _ := actorFromContext(r.Context())
	merchantID := req.MerchantID
	if merchantID == "" && actor.Kind == domain.ActorMerchant {
		merchantID = actor.ID
	}

	side := domain.Side(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		badRequest(w, "side must be buy or sell")
		return
	}
	spread := domain.SpreadPreference(req.SpreadPreference)
	if spread == "" {
		spread = domain.SpreadBest
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.TxBudget)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	defer tx.Rollback()

	orderNumber, err := s.orders.NextOrderNumber(ctx, tx)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	now := time.Now().UTC()
	o := &store.Order{
		ID: uuid.NewString(), OrderNumber: orderNumber, UserID: req.UserID, MerchantID: merchantID,
		OfferID: req.OfferID, Side: side, PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		CryptoAmount: req.CryptoAmount, CryptoCurrency: req.CryptoCurrency,
		FiatAmount: req.FiatAmount, FiatCurrency: req.FiatCurrency, Rate: req.Rate,
		PlatformFee: req.PlatformFee, NetworkFee: req.NetworkFee,
		Status: domain.StatusPending, OrderVersion: 1,
		ProtocolFeeAmount: req.ProtocolFeeAmount, ProtocolFeePercentage: req.ProtocolFeePercentage,
		SpreadPreference: spread, MaxExtensions: config.MaxExtensions,
		BuyerWalletAddress: req.BuyerWalletAddress,
		CreatedAt:          now,
	}
	expires := now.Add(config.InitialExpiry)
	o.ExpiresAt = &expires
	if err := s.orders.Insert(ctx, tx, o); err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	view := toOrderView(o)
	body, _ := json.Marshal(view)
	_ = s.idempotency.Record(r.Context(), req.IdempotencyKey, "create_order", o.ID, http.StatusCreated, string(body))
	s.log.Info("order created", "order_id", o.ID, "order_number", o.OrderNumber, "user_id", o.UserID, "merchant_id", o.MerchantID)
	writeJSON(w, http.StatusCreated, view)
}

// getOrderHandler godoc
// @Summary      Get order by ID
// @Tags         orders
// @Produce      json
// @Param        id  query  string  true  "Order ID"
// @Success      200  {object}  orderView
// @Failure      404  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/get [get]
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "missing query param: id")
		return
	}
	o, err := s.orders.Load(r.Context(), id)
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}
