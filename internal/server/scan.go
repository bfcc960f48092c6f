package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/joseph-ayodele/homework-scanner/internal/async"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
)

// handleScan starts a run. With ?async=true the run is queued and 202 is
// returned; otherwise the request blocks until the run finishes.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if queued, _ := strconv.ParseBool(r.URL.Query().Get("async")); queued && s.Runs != nil {
		s.enqueueScan(w, r)
		return
	}

	sum, err := s.Scanner.Run(r.Context())
	switch {
	case errors.Is(err, scan.ErrNothingToDo):
		writeJSON(w, http.StatusOK, map[string]any{"message": err.Error(), "code": common.CodeOf(err)})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) enqueueScan(w http.ResponseWriter, r *http.Request) {
	// Preconditions are reported synchronously so the client sees them.
	if err := scan.Preflight(s.Sources.Snapshot(), scan.Pending(s.Store.Items())); err != nil {
		if errors.Is(err, scan.ErrNothingToDo) {
			writeJSON(w, http.StatusOK, map[string]any{"message": err.Error(), "code": common.CodeOf(err)})
			return
		}
		s.writeError(w, r, err)
		return
	}
	job := async.Job{Reason: "http", TraceID: common.RequestIDFromContext(r.Context())}
	if err := s.Runs.Enqueue(r.Context(), job); err != nil {
		s.writeError(w, r, common.NewAppError(common.CodeBusy, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "trace_id": job.TraceID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "history database not configured"})
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 500)
	}
	runs, err := s.History.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
