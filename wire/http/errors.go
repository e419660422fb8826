// Package http implements the HTTP boundary of spec.md §4.5: a chi router
// exposing the workflow command surface, validator-backed request DTOs, and
// a single exception-to-code mapper shared by every handler.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/amelia-dev/amelia/orchestrator"
	"github.com/amelia-dev/amelia/repo"
)

// errorBody is the wire shape for every non-2xx response (spec.md §6:
// "error responses use the shape {error, code, details?}").
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// writeError maps err to spec.md §4.5's exception-to-code table and writes
// the response. It is the only place in this package that inspects error
// types, so every handler can just `writeError(w, err)` and return.
func writeError(w http.ResponseWriter, err error) {
	var (
		status  int
		code    string
		details string
	)

	var conflict *orchestrator.ConflictError
	var invalidState *orchestrator.InvalidStateError
	var limitErr *orchestrator.ConcurrencyLimitError
	var validation *validationError

	switch {
	case errors.Is(err, repo.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"

	case errors.As(err, &conflict):
		status, code = http.StatusConflict, "WORKFLOW_CONFLICT"
		details = conflict.IncumbentWorkflowID

	case errors.As(err, &invalidState):
		status, code = http.StatusUnprocessableEntity, "INVALID_STATE"
		details = invalidState.Error()

	case errors.As(err, &limitErr):
		status, code = http.StatusTooManyRequests, "CONCURRENCY_LIMIT"
		w.Header().Set("Retry-After", strconv.Itoa(orchestrator.RetryAfterSeconds))

	case errors.As(err, &validation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
		details = validation.Error()

	default:
		status, code = http.StatusInternalServerError, "INTERNAL_ERROR"
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// validationError wraps a go-playground/validator failure (or a manual
// request-shape check) so writeError can recognize it without importing the
// validator package into the mapper itself.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }
