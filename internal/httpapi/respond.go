package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/oxzoid/ospay-core/internal/coreerr"
)

// writeJSON mirrors the teacher's writeJSONOrders convention, generalized
// to one helper every handler in this package shares.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON is the teacher's error-shaping convention, kept verbatim
// in signature since every handler's call sites are still one line.
func writeErrorJSON(w http.ResponseWriter, code int, errStr, msg string) {
	writeJSON(w, code, map[string]string{"error": errStr, "message": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErrorJSON(w, http.StatusBadRequest, "bad_request", msg)
}

// writeCoreErr maps a *coreerr.Error to its wire status/code (§6's stable
// codes) rather than re-deriving an HTTP status per handler the way the
// teacher's ad hoc per-handler literals did.
func writeCoreErr(w http.ResponseWriter, err error) {
	if ce, ok := coreerr.As(err); ok {
		writeJSON(w, ce.HTTPStatus(), map[string]string{"error": string(ce.Code), "message": ce.Message})
		return
	}
	writeErrorJSON(w, http.StatusInternalServerError, "internal_error", err.Error())
}
