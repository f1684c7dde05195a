package errors

import (
	stderrors "errors"
	"fmt"
)

// KBError is the structured error type for kbindex.
// It carries enough context for logging, HTTP mapping and CLI presentation.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_301_EMBEDDING_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code.
	Category Category

	// Severity is derived from the code.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is matches another KBError by code, so errors.Is works against sentinels.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// WithRetryable overrides the retryable flag derived from the code.
func (e *KBError) WithRetryable(retryable bool) *KBError {
	e.Retryable = retryable
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// The error's message becomes the KBError message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration validation error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ExtractionError creates a per-file extraction error.
func ExtractionError(path string, cause error) *KBError {
	return New(ErrCodeExtractionFailed, fmt.Sprintf("extract %s", path), cause).
		WithDetail("path", path)
}

// EmbeddingError creates an embedding backend error.
func EmbeddingError(message string, cause error) *KBError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// StoreError creates a vector store error with the given code.
func StoreError(code, message string, cause error) *KBError {
	return New(code, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the outermost KBError in err's chain.
func as(err error) (*KBError, bool) {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// IsRetryable reports whether err is a KBError with the Retryable flag set.
func IsRetryable(err error) bool {
	if ke, ok := as(err); ok {
		return ke.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
// Fatal errors abort the current indexing job.
func IsFatal(err error) bool {
	if ke, ok := as(err); ok {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a KBError.
func GetCode(err error) string {
	if ke, ok := as(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not a KBError.
func GetCategory(err error) Category {
	if ke, ok := as(err); ok {
		return ke.Category
	}
	return ""
}
