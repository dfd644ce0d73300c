package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/randalmurphal/storyloop/internal/errors"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

type createWorkspaceRequest struct {
	TaskID string `json:"taskId"`
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.workspaces.ListWorkspaces(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if list == nil {
		list = []workspace.Info{}
	}
	jsonResponse(w, list)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if req.TaskID == "" {
		handleError(w, r, apperrors.ErrInvalidRequest("taskId is required"))
		return
	}
	info, err := s.workspaces.CreateWorkspace(r.Context(), req.TaskID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponseStatus(w, info, http.StatusCreated)
}

func (s *Server) handleRemoveWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.workspaces.RemoveWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
