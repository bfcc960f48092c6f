package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/sources"
)

// sourceRequest is the writable shape of a source. An empty api_key on update
// keeps the stored key, so clients can round-trip redacted listings.
type sourceRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	Enabled        *bool  `json:"enabled"`
	Traits         string `json:"traits"`
	BaseURL        string `json:"base_url"`
	ThinkingBudget *int32 `json:"thinking_budget"`
}

func (req sourceRequest) toSource() (sources.Source, error) {
	p, ok := constants.Canonicalize(req.Provider)
	if !ok {
		return sources.Source{}, common.NewAppError(common.CodeValidation,
			"provider must be one of "+strings.Join(constants.AsStringSlice(), ", "), common.ErrInvalidInput)
	}
	src := sources.Source{
		ID:             strings.TrimSpace(req.ID),
		Name:           req.Name,
		Provider:       p,
		APIKey:         strings.TrimSpace(req.APIKey),
		Model:          req.Model,
		Enabled:        req.Enabled == nil || *req.Enabled,
		Traits:         req.Traits,
		BaseURL:        req.BaseURL,
		ThinkingBudget: req.ThinkingBudget,
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	return src, nil
}

type sourcesResponse struct {
	Sources  []sources.Source `json:"sources"`
	ActiveID string           `json:"active_id"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	snap := s.Sources.Snapshot()
	out := make([]sources.Source, len(snap.Sources))
	for i, src := range snap.Sources {
		out[i] = src.Redacted()
	}
	writeJSON(w, http.StatusOK, sourcesResponse{Sources: out, ActiveID: snap.ActiveID})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := req.toSource()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Sources.Add(src); err != nil {
		s.writeError(w, r, err)
		return
	}
	common.LoggerFromContext(r.Context(), s.logger).Info("http.sources.added", "source_id", src.ID, "provider", src.Provider)
	writeJSON(w, http.StatusCreated, src.Redacted())
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ID != "" && req.ID != id {
		s.writeError(w, r, common.NewAppError(common.CodeValidation, "id in body does not match path", common.ErrInvalidInput))
		return
	}
	req.ID = id
	src, err := req.toSource()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if src.APIKey == "" {
		if cur, ok := s.Sources.Get(id); ok {
			src.APIKey = cur.APIKey
		}
	}
	if err := s.Sources.Update(src); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src.Redacted())
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	if err := s.Sources.Remove(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateSource(w http.ResponseWriter, r *http.Request) {
	if err := s.Sources.SetActive(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListModels asks the source's provider for its models. The key may be
// overridden with ?api_key= so a source can be probed before it is saved.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["source"]
	src, ok := s.Sources.Get(id)
	if !ok {
		s.writeError(w, r, common.NewAppError(common.CodeNotFound, "source "+id+" not found", common.ErrNotFound))
		return
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		src.APIKey = key
	}
	client, err := s.Clients(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	models, err := client.ListModels(r.Context())
	if err != nil {
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.models.list_failed", "source_id", id, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), RequestID: common.RequestIDFromContext(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "models": models})
}
