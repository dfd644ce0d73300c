package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/randalmurphal/storyloop/internal/db"
	apperrors "github.com/randalmurphal/storyloop/internal/errors"
	"github.com/randalmurphal/storyloop/internal/provider"
	"github.com/randalmurphal/storyloop/internal/runner"
	"github.com/randalmurphal/storyloop/internal/textgen"
	"github.com/randalmurphal/storyloop/internal/workflow"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

// jsonResponse writes a successful JSON response.
func jsonResponse(w http.ResponseWriter, data any) {
	jsonResponseStatus(w, data, http.StatusOK)
}

// jsonResponseStatus writes a JSON response with a specific status code.
func jsonResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// handleError renders err as an AppError body with its category status.
// Route parameters of r name the task or workspace in the message.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(r, err)
	jsonResponseStatus(w, appErr, appErr.HTTPStatus())
}

// toAppError maps package errors onto structured errors.
func toAppError(r *http.Request, err error) *apperrors.AppError {
	if appErr := apperrors.AsAppError(err); appErr != nil {
		return appErr
	}
	taskID := chi.URLParam(r, "taskID")
	workspaceID := chi.URLParam(r, "id")

	var (
		transition *workflow.TransitionError
		unknown    *provider.UnknownProviderError
		start      *runner.StartError
		generation *textgen.GenerationError
	)
	var mapped *apperrors.AppError
	switch {
	case errors.As(err, &transition):
		mapped = apperrors.ErrInvalidTransition(string(transition.From), string(transition.To))
	case errors.Is(err, workflow.ErrWorkspaceRequired):
		mapped = apperrors.ErrWorkspaceRequired(taskID)
	case errors.Is(err, workflow.ErrNoStory):
		mapped = apperrors.ErrInvalidRequest("every story already passes")
	case errors.Is(err, runner.ErrSessionActive):
		mapped = apperrors.ErrSessionBusy(workflow.SessionID(taskID))
	case errors.As(err, &start):
		mapped = apperrors.ErrAgentUnavailable(start.Executable, start.Hint)
	case errors.Is(err, workspace.ErrWorkspaceNotFound):
		mapped = apperrors.ErrWorkspaceNotFound(workspaceID)
	case errors.Is(err, workspace.ErrPrimaryCheckout):
		mapped = apperrors.ErrPrimaryCheckout(workspaceID)
	case errors.Is(err, db.ErrPRDNotFound):
		mapped = apperrors.ErrPRDNotFound(taskID)
	case errors.As(err, &generation):
		mapped = apperrors.ErrGenerationFailed(generation.Attempts)
	case errors.As(err, &unknown):
		mapped = apperrors.ErrProviderUnknown(unknown.ID)
	default:
		return apperrors.Wrap(err, "request failed")
	}
	return mapped.WithCause(err)
}

// decodeJSON reads an optional JSON body into v. An empty body is not an error.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.ErrInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
