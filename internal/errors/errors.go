// Package errors provides structured error types for the Strata storage core.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
//
// End-of-stream is deliberately not part of this taxonomy: iterators signal
// exhaustion with io.EOF, which is a terminal condition, not a failure.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySegment    ErrorCategory = "SEGMENT"
	ErrCategoryRowset     ErrorCategory = "ROWSET"
	ErrCategoryTablet     ErrorCategory = "TABLET"
	ErrCategoryMetastore  ErrorCategory = "METASTORE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeSchemaMismatch   = "SCHEMA_MISMATCH"
	CodeInvalidSchema    = "INVALID_SCHEMA"
	CodeInvalidContext   = "INVALID_CONTEXT"
	CodeColumnMismatch   = "COLUMN_MISMATCH"
	CodeRowCountMismatch = "ROW_COUNT_MISMATCH"

	// Segment codes
	CodeCorruptSegment = "CORRUPT_SEGMENT"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"

	// Rowset codes
	CodeAlreadyBuilt  = "ALREADY_BUILT"
	CodeMergeConflict = "MERGE_CONFLICT"

	// Tablet codes
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeRowsetNotFound  = "ROWSET_NOT_FOUND"

	// Metastore codes
	CodeMetaWriteFailed = "META_WRITE_FAILED"
	CodeMetaNotFound    = "META_NOT_FOUND"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StrataError is the structured error type used throughout the system.
type StrataError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StrataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StrataError) Is(target error) bool {
	var t *StrataError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StrataError.
func New(category ErrorCategory, code, message string) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new StrataError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *StrataError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new StrataError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StrataError) WithDetails(details map[string]interface{}) *StrataError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCategory(err error) ErrorCategory {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCode(err error) string {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Contract violations
// and corruption are never retryable; only storage transfers are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *StrataError {
	return New(ErrCategoryValidation, code, message)
}

func NewSegmentError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategorySegment, code, message, cause)
}

func NewRowsetError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategoryRowset, code, message, cause)
}

func NewTabletError(code, message string) *StrataError {
	return New(ErrCategoryTablet, code, message)
}

func NewMetastoreError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategoryMetastore, code, message, cause)
}

func NewStorageError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *StrataError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
