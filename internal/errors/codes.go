// Package errors provides structured error handling for kbindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Source file and extraction errors
//   - 3XX: Embedding backend errors
//   - 4XX: Vector store errors
//   - 5XX: Indexing job errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategorySource indicates knowledge-base file and extraction errors.
	CategorySource Category = "SOURCE"
	// CategoryEmbedding indicates embedding backend errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryStore indicates vector store errors.
	CategoryStore Category = "STORE"
	// CategoryIndex indicates indexing job errors.
	CategoryIndex Category = "INDEX"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current indexing job.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a skipped unit of work; the job continues.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Source errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeUnsupportedType  = "ERR_202_UNSUPPORTED_TYPE"
	ErrCodeExtractionFailed = "ERR_203_EXTRACTION_FAILED"
	ErrCodeKBDirMissing     = "ERR_204_KB_DIR_MISSING"

	// Embedding errors (300-399)
	ErrCodeEmbeddingFailed     = "ERR_301_EMBEDDING_FAILED"
	ErrCodeEmbeddingTimeout    = "ERR_302_EMBEDDING_TIMEOUT"
	ErrCodeEmbeddingMismatch   = "ERR_303_EMBEDDING_MISMATCH"
	ErrCodeEmbedderUnavailable = "ERR_304_EMBEDDER_UNAVAILABLE"

	// Store errors (400-499)
	ErrCodeStoreUnavailable  = "ERR_401_STORE_UNAVAILABLE"
	ErrCodeUpsertFailed      = "ERR_402_UPSERT_FAILED"
	ErrCodeSearchFailed      = "ERR_403_SEARCH_FAILED"
	ErrCodeResetFailed       = "ERR_404_RESET_FAILED"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"
	ErrCodeLengthMismatch    = "ERR_406_LENGTH_MISMATCH"

	// Index errors (500-599)
	ErrCodeIndexLocked    = "ERR_501_INDEX_LOCKED"
	ErrCodeAlreadyRunning = "ERR_502_ALREADY_RUNNING"
	ErrCodeInvalidQuery   = "ERR_503_INVALID_QUERY"
	ErrCodeInternal       = "ERR_599_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategorySource
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryStore
	case '5':
		if code == ErrCodeInternal {
			return CategoryInternal
		}
		return CategoryIndex
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategorySource:
		// A bad file is skipped, the job goes on.
		return SeverityWarning
	case CategoryEmbedding, CategoryStore:
		return SeverityFatal
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingTimeout, ErrCodeEmbedderUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
