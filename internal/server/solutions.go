package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/export"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	historyExportRows = 10000
)

func (s *Server) handleListSolutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"solutions": s.Store.OrderedSolutions(),
		"working":   s.Store.Working(),
	})
}

func (s *Server) handleImprove(w http.ResponseWriter, r *http.Request) {
	var req scan.ImproveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.URL == "" {
		s.writeError(w, r, common.NewAppError(common.CodeValidation, "url is required", common.ErrInvalidInput))
		return
	}
	ps, err := s.Scanner.Improve(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// handleExport serves the live solutions as XLSX, or recorded history with
// ?history=1 (optionally narrowed by ?run=<uuid>).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		buf  []byte
		err  error
		name = "solutions"
	)
	if history, _ := strconv.ParseBool(q.Get("history")); history {
		var runID *uuid.UUID
		if v := q.Get("run"); v != "" {
			id, perr := common.ParseUUID("run", v)
			if perr != nil {
				s.writeError(w, r, perr)
				return
			}
			runID = &id
		}
		buf, err = s.Export.HistoryXLSX(r.Context(), runID, historyExportRows)
		if errors.Is(err, export.ErrNoHistory) {
			writeJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error()})
			return
		}
		name = "history"
	} else {
		buf, err = s.Export.SolutionsXLSX(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, name, time.Now().Format("20060102-150405")))
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}
