package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/randalmurphal/storyloop/internal/errors"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/textgen"
	"github.com/randalmurphal/storyloop/internal/workflow"
)

type prdWizardRequest struct {
	Description string `json:"description"`
}

type prdWizardResponse struct {
	Questions []textgen.Question `json:"questions"`
}

type generatePRDRequest struct {
	Answers []textgen.Answer `json:"answers"`
}

type codingRequest struct {
	// StoryID selects a story; empty means the current or next unfinished one.
	StoryID string `json:"storyId,omitempty"`
}

// engine returns the session for the request's task, or writes a 404.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*workflow.Engine, bool) {
	taskID := chi.URLParam(r, "taskID")
	e, ok := s.sessions.Get(taskID)
	if !ok {
		handleError(w, r, apperrors.ErrSessionNotFound(taskID))
		return nil, false
	}
	return e, true
}

// command runs fn against an existing session and returns the new snapshot.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(context.Context, *workflow.Engine) error) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), e); err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, e.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.sessions.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	jsonResponse(w, e.Snapshot())
}

func (s *Server) handleEvictSession(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.sessions.Evict(r.Context(), taskID) {
		handleError(w, r, apperrors.ErrSessionNotFound(taskID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInitialize creates the session on first use and acquires its workspace.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	e, created := s.sessions.GetOrCreate(taskID)
	if err := e.Initialize(r.Context()); err != nil {
		handleError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	jsonResponseStatus(w, e.Snapshot(), status)
}

func (s *Server) handlePrdWizard(w http.ResponseWriter, r *http.Request) {
	var req prdWizardRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if req.Description == "" {
		handleError(w, r, apperrors.ErrInvalidRequest("description is required"))
		return
	}

	e, _ := s.sessions.GetOrCreate(chi.URLParam(r, "taskID"))
	questions, err := e.StartPrdWizard(r.Context(), req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, prdWizardResponse{Questions: questions})
}

func (s *Server) handleGeneratePRD(w http.ResponseWriter, r *http.Request) {
	var req generatePRDRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	doc, err := e.GeneratePRD(r.Context(), req.Answers)
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, doc)
}

func (s *Server) handleGetPRD(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.LoadPRD(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, doc)
}

// handleImportPRD stores a hand-written PRD for the task, replacing any prior one.
func (s *Server) handleImportPRD(w http.ResponseWriter, r *http.Request) {
	var doc prd.Document
	if err := decodeJSON(r, &doc); err != nil {
		handleError(w, r, err)
		return
	}
	if err := doc.Validate(); err != nil {
		handleError(w, r, apperrors.ErrInvalidRequest(err.Error()))
		return
	}
	doc.SetTaskID(chi.URLParam(r, "taskID"))
	if err := s.store.SavePRD(r.Context(), &doc); err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, &doc)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		return e.ApprovePRD(ctx)
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		return e.StartExecution(ctx)
	})
}

func (s *Server) handlePlanning(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		return e.EnterPlanning(ctx)
	})
}

func (s *Server) handleCoding(w http.ResponseWriter, r *http.Request) {
	var req codingRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		var story *prd.Story
		if req.StoryID != "" {
			doc, err := s.store.LoadPRD(ctx, e.TaskID())
			if err != nil {
				return err
			}
			st, ok := doc.Story(req.StoryID)
			if !ok {
				return apperrors.ErrInvalidRequest(fmt.Sprintf("story %s is not in the PRD", req.StoryID))
			}
			story = &st
		}
		return e.StartCoding(ctx, story, "")
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		return e.Stop(ctx)
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, e *workflow.Engine) error {
		return e.Complete(ctx)
	})
}

func (s *Server) handleListIterations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListIterations(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, recs)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.store.ListFailures(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	jsonResponse(w, failures)
}
