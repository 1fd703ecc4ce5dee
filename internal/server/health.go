package server

import "net/http"

type healthStatus struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
	Error   string `json:"error,omitempty"`
}

// handleHealthz reports liveness and the number of registered workers.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Workers: len(s.deps.Workers.Snapshot())})
}

// handleReadyz reports not ready while the ledger is unreachable.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{Status: "ready", Workers: len(s.deps.Workers.Snapshot())}
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			st.Status = "not ready"
			st.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, st)
			return
		}
	}
	writeJSON(w, http.StatusOK, st)
}
