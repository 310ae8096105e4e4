package httpapi

import "net/http"

// debugMetricsResp extends the teacher's /debug/metrics shape with the
// outbox backlog and realtime subscriber count the teacher's four-status
// single-process build never had to track.
type debugMetricsResp struct {
	OutboxStuckCount int `json:"outbox_stuck_count"`
	RealtimeClients  int `json:"realtime_clients"`
}

// debugMetricsHandler godoc
// @Summary      Operational debug counters
// @Description  Extends OSPay's /debug/metrics with outbox depth and
// @Description  realtime subscriber count.
// @Tags         ops
// @Produce      json
// @Success      200  {object}  debugMetricsResp
// @Router       /debug/metrics [get]
func (s *Server) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	stuck, err := s.drainer.StuckReport(r.Context())
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, debugMetricsResp{
		OutboxStuckCount: len(stuck),
		RealtimeClients:  s.hub.ClientCount(),
	})
}
