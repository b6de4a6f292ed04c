package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ragbot0/ragbot/internal/prompt"
	"github.com/ragbot0/ragbot/internal/store"
)

// handleTemplateList handles GET /api/templates.
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	tmpls, err := s.deps.Prompts.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]templateResponse, 0, len(tmpls))
	for i := range tmpls {
		out = append(out, toTemplateResponse(&tmpls[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTemplateCreate handles POST /api/templates.
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.SystemPrompt) == "" {
		http.Error(w, "name and system_prompt are required", http.StatusBadRequest)
		return
	}
	id, err := s.deps.Prompts.Create(r.Context(), req.Name, req.Description, req.SystemPrompt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// handleTemplateGet handles GET /api/templates/{id}.
func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tmpl, err := s.deps.Prompts.Get(r.Context(), id)
	if errors.Is(err, prompt.ErrTemplateNotFound) {
		http.Error(w, "template not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tmpl))
}

// handleTemplateUpdate handles PUT /api/templates/{id}.
func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.SystemPrompt) == "" {
		http.Error(w, "name and system_prompt are required", http.StatusBadRequest)
		return
	}
	err := s.deps.Prompts.Update(r.Context(), id, req.Name, req.Description, req.SystemPrompt)
	if errors.Is(err, prompt.ErrTemplateNotFound) {
		http.Error(w, "template not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

// handleTemplateDelete handles DELETE /api/templates/{id}.
func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existed, err := s.deps.Prompts.Delete(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !existed {
		http.Error(w, "template not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toTemplateResponse(t *store.Template) templateResponse {
	return templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		SystemPrompt: t.SystemPrompt,
		CreatedAt:    t.CreatedAt.Unix(),
		UpdatedAt:    t.UpdatedAt.Unix(),
	}
}
