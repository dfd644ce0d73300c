// Package errors provides structured error types for storyloop.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for storyloop.
const (
	// Session errors
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeMaxIterations     Code = "MAX_ITERATIONS_EXCEEDED"
	CodeSessionBusy       Code = "SESSION_BUSY"

	// Workspace errors
	CodeWorkspaceRequired Code = "WORKSPACE_REQUIRED"
	CodeWorkspaceNotFound Code = "WORKSPACE_NOT_FOUND"
	CodePrimaryCheckout   Code = "PRIMARY_CHECKOUT"

	// Agent errors
	CodeProviderUnknown  Code = "PROVIDER_UNKNOWN"
	CodeAgentUnavailable Code = "AGENT_UNAVAILABLE"

	// PRD / generation errors
	CodePRDNotFound      Code = "PRD_NOT_FOUND"
	CodeGenerationFailed Code = "GENERATION_FAILED"
	CodeInvalidRequest   Code = "INVALID_REQUEST"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUnavailable
	CategoryForbidden
)

var codeCategories = map[Code]Category{
	CodeSessionNotFound:   CategoryNotFound,
	CodeInvalidTransition: CategoryConflict,
	CodeMaxIterations:     CategoryInternal,
	CodeSessionBusy:       CategoryConflict,
	CodeWorkspaceRequired: CategoryBadRequest,
	CodeWorkspaceNotFound: CategoryNotFound,
	CodePrimaryCheckout:   CategoryForbidden,
	CodeProviderUnknown:   CategoryBadRequest,
	CodeAgentUnavailable:  CategoryUnavailable,
	CodePRDNotFound:       CategoryNotFound,
	CodeGenerationFailed:  CategoryInternal,
	CodeInvalidRequest:    CategoryBadRequest,
	CodeConfigInvalid:     CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// AppError is the structured error type surfaced to CLI and HTTP callers.
type AppError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *AppError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *AppError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *AppError) MarshalJSON() ([]byte, error) {
	type alias AppError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *AppError) WithCause(err error) *AppError {
	return &AppError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrSessionNotFound returns an error when no session exists for a task.
func ErrSessionNotFound(taskID string) *AppError {
	return &AppError{
		Code: CodeSessionNotFound,
		What: fmt.Sprintf("no session for task %s", taskID),
		Why:  "The session was never created or has been evicted",
		Fix:  fmt.Sprintf("Call POST /api/tasks/%s/initialize to create it", taskID),
	}
}

// ErrInvalidTransition returns an error for a command issued in the wrong phase.
func ErrInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("cannot move from %s to %s", from, to),
		Why:  "The workflow transition table does not allow this command in the current phase",
		Fix:  "Check the session phase with GET /api/tasks/{id} before issuing commands",
	}
}

// ErrMaxIterations returns an error when the iteration budget is exhausted.
func ErrMaxIterations(storyID string, max int) *AppError {
	return &AppError{
		Code: CodeMaxIterations,
		What: fmt.Sprintf("story %s still failing after %d retries", storyID, max),
		Why:  "The iteration budget for this session is exhausted",
		Fix:  "Inspect the failure snapshot, fix manually, or raise max_iterations in .storyloop/config.yaml",
	}
}

// ErrSessionBusy returns an error when an agent process is already running.
func ErrSessionBusy(sessionID string) *AppError {
	return &AppError{
		Code: CodeSessionBusy,
		What: fmt.Sprintf("session %s already has a running agent", sessionID),
		Why:  "Only one agent process may run per session",
		Fix:  "Wait for the agent to exit or stop the session",
	}
}

// ErrWorkspaceRequired returns an error when coding starts without a workspace.
func ErrWorkspaceRequired(taskID string) *AppError {
	return &AppError{
		Code: CodeWorkspaceRequired,
		What: fmt.Sprintf("task %s has no workspace", taskID),
		Why:  "Workspace creation failed or initialize was never called",
		Fix:  "Check the server log for the worktree error, then initialize again",
	}
}

// ErrWorkspaceNotFound returns an error for an unknown workspace id.
func ErrWorkspaceNotFound(id string) *AppError {
	return &AppError{
		Code: CodeWorkspaceNotFound,
		What: fmt.Sprintf("workspace %s not found", id),
		Why:  "No tracked worktree has this id",
		Fix:  "List workspaces with 'storyloop workspace list'",
	}
}

// ErrPrimaryCheckout returns an error when removal targets the main working tree.
func ErrPrimaryCheckout(path string) *AppError {
	return &AppError{
		Code: CodePrimaryCheckout,
		What: "refusing to remove the primary checkout",
		Why:  fmt.Sprintf("%s is the main working tree of the repository", path),
	}
}

// ErrProviderUnknown returns an error for an unregistered agent provider.
func ErrProviderUnknown(id string) *AppError {
	return &AppError{
		Code: CodeProviderUnknown,
		What: fmt.Sprintf("unknown agent provider %q", id),
		Fix:  "Run 'storyloop providers' to list registered providers",
	}
}

// ErrAgentUnavailable returns an error when an agent CLI cannot be started.
func ErrAgentUnavailable(executable, hint string) *AppError {
	return &AppError{
		Code: CodeAgentUnavailable,
		What: fmt.Sprintf("agent CLI %s could not be started", executable),
		Fix:  hint,
	}
}

// ErrPRDNotFound returns an error when a task has no stored PRD.
func ErrPRDNotFound(taskID string) *AppError {
	return &AppError{
		Code: CodePRDNotFound,
		What: fmt.Sprintf("task %s has no PRD", taskID),
		Fix:  "Run the PRD wizard or import a prd.json with 'storyloop run --prd'",
	}
}

// ErrGenerationFailed returns an error when structured generation exhausted its retries.
func ErrGenerationFailed(attempts int) *AppError {
	return &AppError{
		Code: CodeGenerationFailed,
		What: fmt.Sprintf("text generation did not produce valid output after %d attempts", attempts),
	}
}

// ErrInvalidRequest returns an error for a malformed API request.
func ErrInvalidRequest(reason string) *AppError {
	return &AppError{
		Code: CodeInvalidRequest,
		What: "invalid request",
		Why:  reason,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *AppError {
	return &AppError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .storyloop/config.yaml and fix the invalid field",
	}
}

// AsAppError attempts to convert an error to an AppError.
// Returns nil if the error chain holds no AppError.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Wrap wraps a generic error into an AppError with unknown code.
func Wrap(err error, what string) *AppError {
	return &AppError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
