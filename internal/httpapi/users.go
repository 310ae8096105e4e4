package httpapi

import (
	"encoding/json"
	"net/http"
)

// userCreateReq mirrors merchantCreateReq for the buy-side party, supplied
// by SPEC_FULL.md §5 since the teacher only ever provisioned merchants.
type userCreateReq struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
}

type userCreateResp struct {
	ID            string `json:"id"`
	APIKey        string `json:"api_key"`
	WalletAddress string `json:"wallet_address"`
}

// createUserHandler godoc
// @Summary      Create a new user
// @Description  Creates a new user account and issues its API key
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        user  body  userCreateReq  true  "User info"
// @Success      201  {object}  userCreateResp
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /users [post]
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req userCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	u, err := s.accounts.CreateUser(r.Context(), req.Name, req.WalletAddress)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, userCreateResp{ID: u.ID, APIKey: u.APIKey, WalletAddress: u.WalletAddress})
}
