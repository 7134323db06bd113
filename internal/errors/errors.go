package errors

import (
	stderrors "errors"
	"fmt"
)

// ForgeError is the structured error type used across the pipeline.
type ForgeError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_READ").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
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
func (e *ForgeError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against sentinel ForgeErrors.
func (e *ForgeError) Is(target error) bool {
	if t, ok := target.(*ForgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *ForgeError) WithDetail(key, value string) *ForgeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *ForgeError) WithSuggestion(suggestion string) *ForgeError {
	e.Suggestion = suggestion
	return e
}

// New creates a ForgeError. Category, severity and the retryable flag
// are derived from the code.
func New(code string, message string, cause error) *ForgeError {
	return &ForgeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ForgeError from an existing error.
func Wrap(code string, err error) *ForgeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-fatal error.
func ConfigError(message string, cause error) *ForgeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// FileError creates a per-file recoverable error for path.
func FileError(code, path string, cause error) *ForgeError {
	msg := "file error"
	if cause != nil {
		msg = cause.Error()
	}
	return New(code, msg, cause).WithDetail("file", path)
}

// StorageError creates a storage-fatal error.
func StorageError(code, message string, cause error) *ForgeError {
	return New(code, message, cause)
}

// DimensionMismatch reports a vector whose length differs from the index dimension.
func DimensionMismatch(expected, got int) *ForgeError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: index expects %d, provider returned %d", expected, got),
		nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("set embedding.dimensions to the provider's output size or clear the vector store")
}

func asForge(err error) (*ForgeError, bool) {
	var fe *ForgeError
	if stderrors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if fe, ok := asForge(err); ok {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error anywhere in the chain has fatal severity.
func IsFatal(err error) bool {
	if fe, ok := asForge(err); ok {
		return fe.Severity == SeverityFatal
	}
	return false
}

// ClassOf returns the pipeline failure class of err.
func ClassOf(err error) Class {
	if fe, ok := asForge(err); ok {
		return classFromCode(fe.Code)
	}
	return ClassUnknown
}

// GetCode extracts the error code, or "" for foreign errors.
func GetCode(err error) string {
	if fe, ok := asForge(err); ok {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category, or "" for foreign errors.
func GetCategory(err error) Category {
	if fe, ok := asForge(err); ok {
		return fe.Category
	}
	return ""
}
