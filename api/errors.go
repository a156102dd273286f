package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/warp/loan-engine/loan"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error      string               `json:"error"`
	Code       string               `json:"code,omitempty"`
	Details    string               `json:"details,omitempty"`
	Fields     []loan.FieldError    `json:"fields,omitempty"`
	Violations []loan.RuleViolation `json:"violations,omitempty"`
	RequestID  string               `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	resp := ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	var elig *loan.EligibilityError
	switch {
	case errors.As(err, &elig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loan.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, loan.ErrNotAuthorized), errors.Is(err, loan.ErrTenantMismatch):
		return http.StatusForbidden
	case loan.IsNotFound(err):
		return http.StatusNotFound
	case loan.IsConflict(err):
		return http.StatusConflict
	case loan.IsClientError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Internal errors are reported
// without details.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := loan.Code(err)

	resp := ErrorResponse{
		Error:     http.StatusText(status),
		Code:      string(code),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status != http.StatusInternalServerError {
		resp.Details = err.Error()
	}

	var verr *loan.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	var elig *loan.EligibilityError
	if errors.As(err, &elig) {
		resp.Violations = elig.Result.Errors
	}

	writeJSON(w, status, resp)
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator failures into a loan.ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &loan.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), ruleMessage(fe))
	}
	return out
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be formatted " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}
