package utils

import (
	"encoding/json"
	"net/http"
)

// Stable error codes carried in the "code" field of 4xx/5xx responses.
// Clients branch on these, never on the message text.
const (
	CodeMissingAPIKey           = "missing_api_key"
	CodeInvalidAPIKey           = "invalid_api_key"
	CodeInsufficientPermissions = "insufficient_permissions"
	CodeRateLimitExceeded       = "rate_limit_exceeded"
	CodeInsufficientBalance     = "insufficient_credit_balance"
	CodeUnknownModel            = "unknown_pricing_model"
	CodeValidationError         = "validation_error"
	CodeNotFound                = "not_found"
	CodeInternalError           = "internal_error"
)

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondWithError sends an error response with a stable code
func RespondWithError(w http.ResponseWriter, status int, code, message string) {
	RespondWithJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
