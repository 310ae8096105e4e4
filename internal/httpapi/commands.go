package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/oxzoid/ospay-core/internal/domain"
	"github.com/oxzoid/ospay-core/internal/finalize"
	"github.com/oxzoid/ospay-core/internal/statusmap"
)

// commandResp is the shape every mutating command returns: the order's new
// snapshot plus how many notifications it enqueued, so callers can tell an
// idempotent no-op (0 notifications) from a real transition.
type commandResp struct {
	Order             orderView `json:"order"`
	NotificationCount int       `json:"notification_count"`
}

func toCommandResp(res *finalize.Result) commandResp {
	return commandResp{Order: toOrderView(res.Order), NotificationCount: len(res.Notifications)}
}

// replayIfSeen returns true (and has already written the response) if key
// names a command already recorded under internal/store's idempotency
// table, generalizing the teacher's order/refund idempotency-key columns
// to every mutating command (SPEC_FULL.md §5).
func (s *Server) replayIfSeen(w http.ResponseWriter, r *http.Request, key string) bool {
	stored, err := s.idempotency.Lookup(r.Context(), key)
	if err != nil || stored == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stored.Status)
	_, _ = w.Write([]byte(stored.Body))
	return true
}

func (s *Server) recordIdempotent(r *http.Request, key, command, orderID string, resp commandResp) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = s.idempotency.Record(r.Context(), key, command, orderID, http.StatusOK, string(body))
}

type escrowLockReq struct {
	OrderID       string `json:"order_id"`
	EscrowTxHash  string `json:"escrow_tx_hash"`
	Address       string `json:"address"`
	TradeID       string `json:"trade_id,omitempty"`
	TradePDA      string `json:"trade_pda,omitempty"`
	PDA           string `json:"pda,omitempty"`
	CreatorWallet string `json:"creator_wallet,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// escrowLockHandler godoc
// @Summary      Lock escrow collateral for an order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        req  body  escrowLockReq  true  "Escrow lock info"
// @Success      200  {object}  commandResp
// @Failure      400  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/escrow_lock [post]
func (s *Server) escrowLockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req escrowLockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.EscrowTxHash == "" {
		badRequest(w, "order_id and escrow_tx_hash are required")
		return
	}
	if s.replayIfSeen(w, r, req.IdempotencyKey) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	res, err := s.engine.EscrowLock(r.Context(), finalize.EscrowLockRequest{
		OrderID: req.OrderID, Actor: actor, EscrowTxHash: req.EscrowTxHash, Address: req.Address,
		TradeID: req.TradeID, TradePDA: req.TradePDA, PDA: req.PDA, CreatorWallet: req.CreatorWallet,
	})
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	resp := toCommandResp(res)
	s.recordIdempotent(r, req.IdempotencyKey, "escrow_lock", req.OrderID, resp)
	writeJSON(w, http.StatusOK, resp)
}

type releaseReq struct {
	OrderID        string `json:"order_id"`
	ReleaseTxHash  string `json:"release_tx_hash"`
	IdempotencyKey string `json:"idempotency_key"`
}

// releaseHandler godoc
// @Summary      Release escrowed funds to the counterparty
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        req  body  releaseReq  true  "Release info"
// @Success      200  {object}  commandResp
// @Failure      422  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/release [post]
func (s *Server) releaseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req releaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.ReleaseTxHash == "" {
		badRequest(w, "order_id and release_tx_hash are required")
		return
	}
	if s.replayIfSeen(w, r, req.IdempotencyKey) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	res, err := s.engine.Release(r.Context(), finalize.ReleaseRequest{OrderID: req.OrderID, Actor: actor, ReleaseTxHash: req.ReleaseTxHash})
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	resp := toCommandResp(res)
	s.recordIdempotent(r, req.IdempotencyKey, "release", req.OrderID, resp)
	writeJSON(w, http.StatusOK, resp)
}

type refundReq struct {
	OrderID        string `json:"order_id"`
	Reason         string `json:"reason,omitempty"`
	RefundTxHash   string `json:"refund_tx_hash,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// refundHandler godoc
// @Summary      Reverse an escrow lock and cancel the order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        req  body  refundReq  true  "Refund info"
// @Success      200  {object}  commandResp
// @Failure      422  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/refund [post]
func (s *Server) refundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OrderID == "" {
		badRequest(w, "order_id is required")
		return
	}
	if s.replayIfSeen(w, r, req.IdempotencyKey) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	res, err := s.engine.Refund(r.Context(), finalize.RefundRequest{
		OrderID: req.OrderID, Actor: actor, Reason: req.Reason, RefundTxHash: req.RefundTxHash,
	})
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	resp := toCommandResp(res)
	s.recordIdempotent(r, req.IdempotencyKey, "refund", req.OrderID, resp)
	writeJSON(w, http.StatusOK, resp)
}

type cancelReq struct {
	OrderID        string `json:"order_id"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// cancelHandler godoc
// @Summary      Cancel an order with no escrow lock active
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        req  body  cancelReq  true  "Cancel info"
// @Success      200  {object}  commandResp
// @Failure      422  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/cancel [post]
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OrderID == "" {
		badRequest(w, "order_id is required")
		return
	}
	if s.replayIfSeen(w, r, req.IdempotencyKey) {
		return
	}
	actor, _ := actorFromContext(r.Context())
	res, err := s.engine.CancelSimple(r.Context(), finalize.CancelSimpleRequest{OrderID: req.OrderID, Actor: actor, Reason: req.Reason})
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	resp := toCommandResp(res)
	s.recordIdempotent(r, req.IdempotencyKey, "cancel", req.OrderID, resp)
	writeJSON(w, http.StatusOK, resp)
}

type patchStatusReq struct {
	OrderID               string `json:"order_id"`
	To                    string `json:"to"`
	AcceptorWalletAddress string `json:"acceptor_wallet_address,omitempty"`
	Metadata              string `json:"metadata,omitempty"`
	IdempotencyKey        string `json:"idempotency_key"`
}

// patchStatusHandler godoc
// @Summary      Apply a general status transition
// @Description  `to` accepts either a public status name or, for system and
// @Description  compliance actors, an internal status name; other actors
// @Description  naming a transient internal status are rejected (P6).
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        req  body  patchStatusReq  true  "Patch status info"
// @Success      200  {object}  commandResp
// @Failure      422  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /orders/patch_status [post]
func (s *Server) patchStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req patchStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.To == "" {
		badRequest(w, "order_id and to are required")
		return
	}
	if s.replayIfSeen(w, r, req.IdempotencyKey) {
		return
	}

	actor, _ := actorFromContext(r.Context())
	var to domain.Status
	if actor.Kind == domain.ActorSystem || actor.Kind == domain.ActorCompliance {
		to = domain.Status(req.To)
	} else {
		canonical, err := statusmap.ValidatePublicWrite(req.To)
		if err != nil {
			writeCoreErr(w, err)
			return
		}
		to = canonical
	}

	res, err := s.engine.PatchStatus(r.Context(), finalize.PatchStatusRequest{
		OrderID: req.OrderID, Actor: actor, To: to,
		AcceptorWalletAddress: req.AcceptorWalletAddress, Metadata: req.Metadata,
	})
	if err != nil {
		writeCoreErr(w, err)
		return
	}
	resp := toCommandResp(res)
	s.recordIdempotent(r, req.IdempotencyKey, "patch_status", req.OrderID, resp)
	writeJSON(w, http.StatusOK, resp)
}
