package gate

import (
	"fmt"
	"net/http"
	"time"

	"creditgate/internal/utils"
)

// Error is a pipeline rejection carrying the stable HTTP contract: status
// and machine-readable code. Rate-limit rejections additionally carry the
// window state for response headers.
type Error struct {
	Status  int
	Code    string
	Message string

	// Rate-limit window state, set only for rate_limit_exceeded.
	Limit     int
	Remaining int
	ResetAt   time.Time

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func missingCredentialError() *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Code:    utils.CodeMissingAPIKey,
		Message: "missing API key",
	}
}

// invalidCredentialError is the single collapsed outward signal for every
// verification failure mode. The internal reason goes to the audit trail
// only.
func invalidCredentialError() *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Code:    utils.CodeInvalidAPIKey,
		Message: "invalid API key",
	}
}

func permissionError(required string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Code:    utils.CodeInsufficientPermissions,
		Message: fmt.Sprintf("missing required permission: %s", required),
	}
}

func rateLimitError(limit, remaining int, resetAt time.Time) *Error {
	return &Error{
		Status:    http.StatusTooManyRequests,
		Code:      utils.CodeRateLimitExceeded,
		Message:   "rate limit exceeded",
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func insufficientBalanceError(err error) *Error {
	return &Error{
		Status:  http.StatusPaymentRequired,
		Code:    utils.CodeInsufficientBalance,
		Message: "insufficient credit balance",
		err:     err,
	}
}

func unknownModelError(model string, err error) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    utils.CodeUnknownModel,
		Message: fmt.Sprintf("no pricing for model: %s", model),
		err:     err,
	}
}

func internalError(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    utils.CodeInternalError,
		Message: "internal error",
		err:     err,
	}
}
