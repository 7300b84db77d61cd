package core

import "errors"

// Error codes for command rejections.
const (
	ErrCodeUnknownCommand   = "unknown_command"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeUnsafeCommand    = "unsafe_command"
	ErrCodeBadRequest       = "bad_request"
)

var (
	// ErrStopped is returned by requests made after the agent loop ended.
	ErrStopped = errors.New("agent stopped")
	// ErrNoGuardPrompt is returned when a guard code arrives without a pending challenge.
	ErrNoGuardPrompt = errors.New("no guard code requested")
)

// CoreError wraps a code and the reply shown to the user.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
