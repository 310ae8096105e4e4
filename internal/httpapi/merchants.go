package httpapi

import (
	"encoding/json"
	"net/http"
)

// merchantCreateReq mirrors the teacher's MerchantCreateReq.
type merchantCreateReq struct {
	Name                  string `json:"name"`
	MerchantWalletAddress string `json:"merchant_wallet_address"`
}

type merchantCreateResp struct {
	ID                    string `json:"id"`
	APIKey                string `json:"api_key"`
	MerchantWalletAddress string `json:"merchant_wallet_address"`
}

// createMerchantHandler godoc
// @Summary      Create a new merchant
// @Description  Creates a new merchant account and issues its API key
// @Tags         merchants
// @Accept       json
// @Produce      json
// @Param        merchant  body  merchantCreateReq  true  "Merchant info"
// @Success      201  {object}  merchantCreateResp
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /merchants [post]
func (s *Server) createMerchantHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req merchantCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || req.MerchantWalletAddress == "" {
		badRequest(w, "name and merchant_wallet_address are required")
		return
	}
	m, err := s.accounts.CreateMerchant(r.Context(), req.Name, req.MerchantWalletAddress)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, merchantCreateResp{ID: m.ID, APIKey: m.APIKey, MerchantWalletAddress: m.MerchantWalletAddress})
}
