package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
	"github.com/anotherai-dev/anotherai-sub001/internal/playground"
)

// listPage is the envelope for paginated listings.
type listPage struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	type model struct {
		ID          string `json:"id"`
		Object      string `json:"object"`
		OwnedBy     string `json:"owned_by,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
	}
	entries := s.Catalog.List()
	data := make([]model, 0, len(entries))
	for _, e := range entries {
		m := model{ID: e.ID, Object: "model", DisplayName: e.DisplayName}
		if len(e.Providers) > 0 {
			m.OwnedBy = string(e.Providers[0].Provider)
		}
		data = append(data, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleGetCompletion(w http.ResponseWriter, r *http.Request) {
	c, err := s.Stores.Completions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCompletions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeBadRequest(w, "agent_id is required")
		return
	}
	limit, offset := pageParams(r)
	items, total, err := s.Stores.Completions.List(r.Context(), agentID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage{Items: items, Total: total})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	limit, offset := pageParams(r)
	items, total, err := s.Stores.Deployments.List(r.Context(),
		r.URL.Query().Get("agent_id"), includeArchived, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage{Items: items, Total: total})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.Stores.Deployments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type deploymentRequest struct {
	ID        string `json:"id,omitempty"`
	AgentID   string `json:"agent_id"`
	VersionID string `json:"version_id"`
	CreatedBy string `json:"created_by,omitempty"`
}

func (s *Server) handleUpsertDeployment(w http.ResponseWriter, r *http.Request) {
	var req deploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	res, err := s.Deployments.Upsert(r.Context(), req.AgentID, req.VersionID, req.ID, req.CreatedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Created {
		writeJSON(w, http.StatusCreated, res.Deployment)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment":       res.Deployment,
		"confirmation_url": res.ConfirmationURL,
	})
}

func (s *Server) handleUpdateDeployment(w http.ResponseWriter, r *http.Request) {
	var req deploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	d, err := s.Deployments.Update(r.Context(), chi.URLParam(r, "id"), req.AgentID, req.VersionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleArchiveDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Deployments.Archive(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	d, err := s.Stores.Deployments.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type experimentRequest struct {
	AgentID         string                      `json:"agent_id"`
	Title           string                      `json:"title,omitempty"`
	Description     string                      `json:"description,omitempty"`
	Author          string                      `json:"author,omitempty"`
	Metadata        map[string]any              `json:"metadata,omitempty"`
	CachePolicy     domain.CachePolicy          `json:"use_cache,omitempty"`
	Versions        []domain.Version            `json:"versions,omitempty"`
	Matrix          *playground.Matrix          `json:"matrix,omitempty"`
	Inputs          []domain.AgentInput         `json:"inputs,omitempty"`
	CompletionQuery *playground.CompletionQuery `json:"completion_query,omitempty"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	exp, err := s.Playground.Create(r.Context(), &playground.CreateParams{
		AgentID:         req.AgentID,
		Title:           req.Title,
		Description:     req.Description,
		Author:          req.Author,
		Metadata:        req.Metadata,
		CachePolicy:     req.CachePolicy,
		Versions:        req.Versions,
		Matrix:          req.Matrix,
		Inputs:          req.Inputs,
		CompletionQuery: req.CompletionQuery,
	})
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if raw := r.URL.Query().Get("max_wait_time_seconds"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			writeBadRequest(w, "max_wait_time_seconds must be a non-negative number")
			return
		}
		wait = time.Duration(seconds * float64(time.Second))
	}
	exp, completions, err := s.Playground.Outputs(r.Context(), chi.URLParam(r, "id"), wait)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment":  exp,
		"completions": completions,
	})
}
