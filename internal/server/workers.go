package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

const maxEventLimit = 1000

type workerList struct {
	Workers []connector.WorkerRecord `json:"workers"`
}

type eventList struct {
	Events []connector.WorkerEvent `json:"events"`
}

func (s *server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	records := s.deps.Workers.Snapshot()
	for i := range records {
		records[i].Database = s.title(records[i].Slot)
	}
	writeJSON(w, http.StatusOK, workerList{Workers: records})
}

func (s *server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid slot"))
		return
	}
	rec, err := s.deps.Workers.Lookup(slot)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	rec.Database = s.title(rec.Slot)
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid limit"))
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := s.deps.Events.ListEvents(r.Context(), limit)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse("internal error"))
		return
	}
	if events == nil {
		events = []connector.WorkerEvent{}
	}
	writeJSON(w, http.StatusOK, eventList{Events: events})
}

func (s *server) title(slot int) string {
	if s.deps.Titles == nil {
		return ""
	}
	return s.deps.Titles(slot)
}
