package action

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	// ErrSchema is returned by New when the params do not match the
	// handler's schema. The operation is then not an action at all.
	ErrSchema = errors.New("action params do not match schema")
	// ErrAlreadyExecuted is returned by a second Execute.
	ErrAlreadyExecuted = errors.New("action already executed")
)

// Validation error codes shared by the ledger handlers.
const (
	CodeAuthority     = "authority"
	CodeUnauthorized  = "unauthorized"
	CodeInsufficient  = "insufficient_balance"
	CodeInvalidAmount = "invalid_amount"
	CodeInvalidToken  = "invalid_token"
	CodeNotFound      = "not_found"
	CodeInvalidState  = "invalid_state"
	CodeInvalidParams = "invalid_params"
)

// ValidationError is an expected rule violation. It fails only the action
// that raised it and is recorded in the block's transaction list.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsValidation reports whether err is (or wraps) a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
