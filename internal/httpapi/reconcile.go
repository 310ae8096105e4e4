package httpapi

import (
	"net/http"

	"github.com/oxzoid/ospay-core/internal/domain"
)

// reconciliationEntry is one balance_accounts row shaped for the report.
type reconciliationEntry struct {
	OwnerKind      string `json:"owner_kind"`
	OwnerID        string `json:"owner_id"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	LockedInEscrow string `json:"locked_in_escrow"`
}

type reconciliationResp struct {
	Accounts      []reconciliationEntry `json:"accounts"`
	PlatformTotal map[string]string     `json:"platform_total_by_currency"`
}

// reconciliationHandler godoc
// @Summary      Balance reconciliation report
// @Description  Adapts the teacher's ReconciliationHandler (balance sums per
// @Description  merchant/asset) onto the twelve-status double-entry ledger;
// @Description  restricted to system/compliance callers.
// @Tags         ops
// @Produce      json
// @Success      200  {object}  reconciliationResp
// @Failure      403  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /reconciliation [get]
func (s *Server) reconciliationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	actor, _ := actorFromContext(r.Context())
	if actor.Kind != domain.ActorSystem && actor.Kind != domain.ActorCompliance {
		writeErrorJSON(w, http.StatusForbidden, "forbidden", "reconciliation is restricted to system/compliance callers")
		return
	}

	accts, err := s.ledger.AllBalances(r.Context())
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	resp := reconciliationResp{PlatformTotal: map[string]string{}}
	for _, a := range accts {
		resp.Accounts = append(resp.Accounts, reconciliationEntry{
			OwnerKind: string(a.OwnerKind), OwnerID: a.OwnerID, Currency: a.Currency,
			Balance: a.Balance.String(), LockedInEscrow: a.LockedInEscrow.String(),
		})
		if a.OwnerKind == domain.EntityPlatform {
			resp.PlatformTotal[a.Currency] = a.Balance.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
