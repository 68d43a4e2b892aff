package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Stable machine codes. API consumers branch on these, so additions are fine
// but renames are breaking.
const (
	CodeInvalidAPIKey         = "invalid_api_key"
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeModelRestricted       = "model_restricted"
	CodeCostLimitExceeded     = "cost_limit_exceeded"
	CodePolicyRequirement     = "policy_requirement"
	CodeMissingParameter      = "missing_parameter"
	CodeModelNotFound         = "model_not_found"
	CodeProviderNotConfigured = "provider_not_configured"
	CodeUpstreamError         = "upstream_error"
	CodeInternalError         = "internal_error"
)

// Error is the gateway's uniform error value. It renders as the
// OpenAI-shaped envelope {"error":{message,type,param,code}}.
type Error struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error with an explicit status and code.
func New(status int, errType, code, message string) *Error {
	return &Error{Status: status, Type: errType, Code: code, Message: message}
}

func Auth(message string) *Error {
	return New(http.StatusUnauthorized, "authentication_error", CodeInvalidAPIKey, message)
}

func RateLimited(message string) *Error {
	return New(http.StatusTooManyRequests, "rate_limit_error", CodeRateLimitExceeded, message)
}

func ModelRestricted(message string) *Error {
	return New(http.StatusForbidden, "policy_error", CodeModelRestricted, message)
}

func CostLimit(message string) *Error {
	return New(http.StatusForbidden, "policy_error", CodeCostLimitExceeded, message)
}

func PolicyRequirement(message string) *Error {
	return New(http.StatusBadRequest, "policy_error", CodePolicyRequirement, message)
}

func MissingParameter(param string) *Error {
	e := New(http.StatusBadRequest, "invalid_request_error", CodeMissingParameter, "missing required parameter: "+param)
	e.Param = param
	return e
}

func ModelNotFound(model string) *Error {
	e := New(http.StatusBadRequest, "invalid_request_error", CodeModelNotFound, "no route configured for model "+model)
	e.Param = "model"
	return e
}

func ProviderNotConfigured(provider string) *Error {
	return New(http.StatusBadRequest, "invalid_request_error", CodeProviderNotConfigured, "no active connection for provider "+provider)
}

func Upstream(provider, message string) *Error {
	if message == "" {
		message = "upstream provider request failed"
	}
	return New(http.StatusBadGateway, "upstream_error", CodeUpstreamError, provider+": "+message)
}

func Internal() *Error {
	return New(http.StatusInternalServerError, "internal_error", CodeInternalError, "internal server error")
}

// envelope matches the OpenAI error body shape.
type envelope struct {
	Error *Error `json:"error"`
}

// Write serializes any error as the uniform envelope. Non-*Error values are
// masked as internal errors so upstream details never leak by accident.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{Error: apiErr})
}
