package worker

import "errors"

// Failure codes surfaced at the queue boundary.
const (
	CodeValidation = "VALIDATION"
	CodeService    = "SERVICE_ERROR"
	CodeExhausted  = "RETRIES_EXHAUSTED"
)

// Error classifies a pipeline failure. Validation failures are terminal
// immediately and never consume a retry attempt; everything else is
// treated as transient until the attempt cap is reached.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func validationError(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func serviceError(message string) *Error {
	return &Error{Code: CodeService, Message: message}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var pipelineErr *Error
	return errors.As(err, &pipelineErr) && pipelineErr.Code == CodeValidation
}

// IsExhausted reports whether err marks a terminal retries-exhausted failure.
func IsExhausted(err error) bool {
	var pipelineErr *Error
	return errors.As(err, &pipelineErr) && pipelineErr.Code == CodeExhausted
}
