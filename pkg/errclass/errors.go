package errclass

import (
	"errors"
	"fmt"
)

// OpError is a stable, machine-readable error class.
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new OpError with the same Code but a specific message.
func (e *OpError) WithMessage(msg string) *OpError {
	return &OpError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new OpError with a formatted message.
func (e *OpError) WithMessagef(format string, args ...any) *OpError {
	return &OpError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the class code from err, or "" when err carries none.
func Code(err error) string {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// Stable error classes.
var (
	ErrPolicyDenied         = &OpError{Code: "E_POLICY_DENIED"}
	ErrConfirmationDeclined = &OpError{Code: "E_CONFIRMATION_DECLINED"}
	ErrCommandFailed        = &OpError{Code: "E_COMMAND_FAILED"}
	ErrCheckpointFailed     = &OpError{Code: "E_CHECKPOINT_FAILED"}
	ErrReportUnparsable     = &OpError{Code: "E_REPORT_UNPARSABLE"}
	ErrIterationExhausted   = &OpError{Code: "E_ITERATION_EXHAUSTED"}
	ErrAuditChainBroken     = &OpError{Code: "E_AUDIT_CHAIN_BROKEN"}
	ErrPathEscape           = &OpError{Code: "E_PATH_ESCAPE"}
	ErrConfigInvalid        = &OpError{Code: "E_CONFIG_INVALID"}
	ErrServiceUnknown       = &OpError{Code: "E_SERVICE_UNKNOWN"}
	ErrNotFound             = &OpError{Code: "E_NOT_FOUND"}
	ErrRunLocked            = &OpError{Code: "E_RUN_LOCKED"}
	ErrLockNotHeld          = &OpError{Code: "E_LOCK_NOT_HELD"}
)
