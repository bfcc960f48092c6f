package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

// addItemsResponse lists accepted items and per-file rejections.
type addItemsResponse struct {
	Items    []entity.FileItem `json:"items"`
	Rejected []rejectedFile    `json:"rejected,omitempty"`
}

type rejectedFile struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// handleAddItems accepts multipart uploads in the "files" field. A "path"
// form value ingests a server-side file or directory instead.
func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("upload exceeds %d MB", s.cfg.MaxUploadMB)})
			return
		}
		s.writeError(w, r, common.NewAppError(common.CodeValidation, "expected multipart form: "+err.Error(), common.ErrInvalidInput))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if path := r.FormValue("path"); path != "" {
		s.addFromPath(w, r, path)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, r, common.NewAppError(common.CodeValidation, "no files in field \"files\"", common.ErrInvalidInput))
		return
	}
	logger := common.LoggerFromContext(r.Context(), s.logger)

	resp := addItemsResponse{Items: []entity.FileItem{}}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejectedFile{Name: fh.Filename, Error: err.Error()})
			continue
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejectedFile{Name: fh.Filename, Error: err.Error()})
			continue
		}
		item, err := s.Ingestor.IngestFile(r.Context(), entity.File{
			Name:     fh.Filename,
			Data:     data,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     len(data),
		})
		if err != nil {
			resp.Rejected = append(resp.Rejected, rejectedFile{Name: fh.Filename, Error: err.Error()})
			continue
		}
		resp.Items = append(resp.Items, item)
	}
	logger.Info("http.items.added", "accepted", len(resp.Items), "rejected", len(resp.Rejected))

	status := http.StatusCreated
	if len(resp.Items) == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) addFromPath(w http.ResponseWriter, r *http.Request, path string) {
	results, stats, err := s.Ingestor.IngestDirectory(r.Context(), path, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"results": results, "stats": stats})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.Store.Items()
	if st := constants.ItemStatus(r.URL.Query().Get("status")); st != "" {
		if !slices.Contains(itemStatuses, st) {
			s.writeError(w, r, common.NewAppError(common.CodeValidation, "unknown status "+string(st), common.ErrInvalidInput))
			return
		}
		filtered := items[:0]
		for _, it := range items {
			if it.Status == st {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "working": s.Store.Working()})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseUUID("id", mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Store.RemoveItem(id); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			err = common.NewAppError(common.CodeNotFound, err.Error(), err)
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearItems(w http.ResponseWriter, r *http.Request) {
	if s.Store.Working() {
		s.writeError(w, r, common.NewAppError(common.CodeBusy, "cannot clear while a scan is running", nil))
		return
	}
	if err := s.Store.ClearAll(); err != nil {
		// Items are gone even when some previews could not be released.
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.items.clear_release_failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

var itemStatuses = []constants.ItemStatus{
	constants.ItemRasterizing, constants.ItemPending, constants.ItemProcessing, constants.ItemSuccess, constants.ItemFailed,
}
