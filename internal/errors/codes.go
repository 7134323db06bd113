// Package errors provides structured error handling for forge.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Per-file IO and parse errors
//   - 3XX: Embedding provider (network) errors
//   - 4XX: Validation errors
//   - 5XX: Storage errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryStorage    Category = "STORAGE"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the run.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails one file or stage, the run continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation.
	SeverityWarning Severity = "WARNING"
)

// Class is the pipeline-level failure class an error belongs to.
type Class string

const (
	// ClassFile covers unreadable files, parse failures and chunking failures.
	ClassFile Class = "per_file"
	// ClassBatch covers embedding batch failures and timeouts.
	ClassBatch Class = "per_batch"
	// ClassConfig aborts the run before anything is written.
	ClassConfig Class = "config_fatal"
	// ClassStorage aborts the run and leaves persisted state untouched.
	ClassStorage Class = "storage_fatal"
	// ClassUnknown is anything not produced by this package.
	ClassUnknown Class = "unknown"
)

const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeInvalidBackend = "ERR_103_INVALID_BACKEND"
	ErrCodeRootInvalid    = "ERR_104_ROOT_INVALID"

	// Per-file errors (200-299)
	ErrCodeFileRead     = "ERR_201_FILE_READ"
	ErrCodeParseFailed  = "ERR_202_PARSE_FAILED"
	ErrCodeChunkFailed  = "ERR_203_CHUNK_FAILED"
	ErrCodeFileTooLarge = "ERR_204_FILE_TOO_LARGE"

	// Provider errors (300-399)
	ErrCodeProviderFailed  = "ERR_301_PROVIDER_FAILED"
	ErrCodeProviderTimeout = "ERR_302_PROVIDER_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Storage errors (500-599)
	ErrCodeIndexOpen    = "ERR_501_INDEX_OPEN"
	ErrCodeIndexPersist = "ERR_502_INDEX_PERSIST"
	ErrCodeTracker      = "ERR_503_TRACKER"
	ErrCodeLocked       = "ERR_504_DATA_DIR_LOCKED"
	ErrCodeOutputWrite  = "ERR_505_OUTPUT_WRITE"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '5':
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeDimensionMismatch {
		return SeverityFatal
	}
	switch categoryFromCode(code) {
	case CategoryConfig, CategoryStorage:
		return SeverityFatal
	case CategoryNetwork:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderFailed, ErrCodeProviderTimeout:
		return true
	default:
		return false
	}
}

// classFromCode maps a code onto the pipeline failure class.
func classFromCode(code string) Class {
	if code == ErrCodeDimensionMismatch {
		return ClassConfig
	}
	switch categoryFromCode(code) {
	case CategoryConfig:
		return ClassConfig
	case CategoryStorage:
		return ClassStorage
	case CategoryIO:
		return ClassFile
	case CategoryNetwork:
		return ClassBatch
	default:
		return ClassUnknown
	}
}
