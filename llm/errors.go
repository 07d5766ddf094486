package llm

import (
	"errors"
	"fmt"
)

// Error represents a classified query failure.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int    // Set for http_status errors
	Excerpt    string // Bounded raw body excerpt for diagnosis
	Err        error  // Underlying cause
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeHTTPStatus ErrorType = "http_status"
	ErrorTypeParse      ErrorType = "parse"
)

var (
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrEmptyMessages    = errors.New("no messages to send")
	ErrEmptyAPIKey      = errors.New("API key is not configured")
	ErrEmptyBaseURL     = errors.New("base URL is not configured")
	ErrEmptyModel       = errors.New("model is not configured")
	ErrProviderNotFound = errors.New("provider not found")
	ErrNoActiveProvider = errors.New("no active provider with an API key")
	ErrSessionNotFound  = errors.New("session not found")
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil && e.Type != ErrorTypeHTTPStatus {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError wraps one of the validation sentinels.
func NewValidationError(err error) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: "invalid request",
		Err:     err,
	}
}

// NewTransportError wraps a DNS/TCP/TLS/timeout failure.
func NewTransportError(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeTransport,
		Message: message,
		Err:     err,
	}
}

// NewHTTPStatusError builds a non-2xx failure with a classified message.
func NewHTTPStatusError(status int, model, excerpt string) *Error {
	return &Error{
		Type:       ErrorTypeHTTPStatus,
		Message:    Classify(status, model, excerpt),
		StatusCode: status,
		Excerpt:    excerpt,
	}
}

// NewParseError reports a 2xx body that held no recognizable text.
func NewParseError(excerpt string) *Error {
	msg := "response contained no recognizable text"
	if excerpt != "" {
		msg = fmt.Sprintf("%s: %s", msg, excerpt)
	}
	return &Error{
		Type:    ErrorTypeParse,
		Message: msg,
		Excerpt: excerpt,
	}
}

func errorType(err error) (ErrorType, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type, true
	}
	return "", false
}

// IsValidationError checks if an error is a local validation failure.
func IsValidationError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeValidation
}

// IsTransportError checks if an error is a transport failure.
func IsTransportError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeTransport
}

// IsHTTPStatusError checks if an error is a classified non-2xx response.
func IsHTTPStatusError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeHTTPStatus
}

// IsParseError checks if an error is an unrecognizable 2xx body.
func IsParseError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeParse
}

// StatusCode extracts the HTTP status from an http_status error, or 0.
func StatusCode(err error) int {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.StatusCode
	}
	return 0
}
