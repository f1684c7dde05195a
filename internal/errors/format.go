package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ke, ok := as(err)
	if !ok {
		ke = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ke.Message)
	if ke.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ke.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ke.Code)
	return sb.String()
}

// HTTPStatus maps an error to the HTTP status the API responds with.
func HTTPStatus(err error) int {
	ke, ok := as(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch ke.Code {
	case ErrCodeInvalidQuery, ErrCodeLengthMismatch, ErrCodeDimensionMismatch:
		return http.StatusBadRequest
	case ErrCodeFileNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyRunning, ErrCodeIndexLocked:
		return http.StatusConflict
	}

	switch ke.Category {
	case CategoryEmbedding, CategoryStore:
		return http.StatusBadGateway
	case CategoryConfig:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Body is the JSON error envelope returned by the HTTP API.
type Body struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ToBody converts err into the API error envelope.
func ToBody(err error) Body {
	ke, ok := as(err)
	if !ok {
		return Body{Code: ErrCodeInternal, Message: err.Error()}
	}
	return Body{Code: ke.Code, Message: ke.Message, Suggestion: ke.Suggestion}
}

// LogAttrs flattens an error into key-value pairs for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	ke, ok := as(err)
	if !ok {
		return []any{"error", err.Error()}
	}
	attrs := []any{
		"error_code", ke.Code,
		"error", ke.Message,
		"category", string(ke.Category),
	}
	if ke.Cause != nil {
		attrs = append(attrs, "cause", ke.Cause.Error())
	}
	return attrs
}
