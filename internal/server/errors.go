package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"examline/internal/engine"
	"examline/internal/repo"
)

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_eligible_worker"`
	Message string         `json:"message" example:"no eligible worker for job exam-2024"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"job_id\":\"exam-2024\"}"`
}

// apiError is the envelope every failing endpoint returns:
// {"error":{"code":...,"message":...,"details":{...}}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var statusCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation_failed",
	http.StatusBadGateway:          "dependency_failed",
	http.StatusInternalServerError: "internal_error",
}

func codeFor(status int) string {
	if c, ok := statusCodes[status]; ok {
		return c
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = codeFor(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

// installErrorEnvelope routes huma's own errors (bad params, schema
// violations) through the same envelope. Request validation failures are
// reported as 400.
func installErrorEnvelope() {
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, _ ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}
}

// handleError maps engine failures onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		ve *engine.ValidationError
		ne *engine.NoEligibleWorkerError
		nf *engine.NotFoundError
		is *engine.InvalidStateError
		de *engine.DependencyError
	)
	switch {
	case errors.As(err, &ve):
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "", err.Error(), details)
	case errors.As(err, &ne):
		details := map[string]any{"job_id": ne.JobID}
		if ne.ItemID != "" {
			details["item_id"] = ne.ItemID
		}
		return newAPIError(http.StatusNotFound, "no_eligible_worker", err.Error(), details)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	case errors.As(err, &is):
		details := map[string]any{"kind": is.Kind, "id": is.ID}
		if is.Status != "" {
			details["status"] = is.Status
		}
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), details)
	case errors.As(err, &de):
		return newAPIError(http.StatusBadGateway, "", de.Op+" failed", map[string]any{"error": de.Err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "", "internal error", map[string]any{"error": err.Error()})
}
