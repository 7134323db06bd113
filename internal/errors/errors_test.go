package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		class     Class
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, ClassConfig, false},
		{ErrCodeInvalidBackend, CategoryConfig, SeverityFatal, ClassConfig, false},
		{ErrCodeFileRead, CategoryIO, SeverityError, ClassFile, false},
		{ErrCodeParseFailed, CategoryIO, SeverityError, ClassFile, false},
		{ErrCodeProviderTimeout, CategoryNetwork, SeverityWarning, ClassBatch, true},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityFatal, ClassConfig, false},
		{ErrCodeInvalidInput, CategoryValidation, SeverityError, ClassUnknown, false},
		{ErrCodeIndexPersist, CategoryStorage, SeverityFatal, ClassStorage, false},
		{ErrCodeLocked, CategoryStorage, SeverityFatal, ClassStorage, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, ClassUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.class, ClassOf(err))
		})
	}
}

func TestForgeError_ChainHelpers(t *testing.T) {
	// Given: a storage error wrapped twice with fmt.Errorf
	inner := StorageError(ErrCodeIndexOpen, "open index", fs.ErrPermission)
	wrapped := fmt.Errorf("run: %w", fmt.Errorf("stage: %w", inner))

	// Then: helpers see through the wrapping
	assert.True(t, IsFatal(wrapped))
	assert.Equal(t, ClassStorage, ClassOf(wrapped))
	assert.Equal(t, ErrCodeIndexOpen, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, fs.ErrPermission))
	assert.True(t, stderrors.Is(wrapped, New(ErrCodeIndexOpen, "", nil)))
}

func TestForeignErrors(t *testing.T) {
	err := stderrors.New("plain")
	assert.False(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, ClassUnknown, ClassOf(err))
	assert.Equal(t, "", GetCode(err))
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestDimensionMismatch(t *testing.T) {
	err := DimensionMismatch(384, 768)

	assert.Equal(t, "384", err.Details["expected"])
	assert.Equal(t, "768", err.Details["got"])
	assert.True(t, IsFatal(err))
	assert.NotEmpty(t, err.Suggestion)
	assert.Contains(t, err.Error(), "ERR_402")
}

func TestFormatForCLI(t *testing.T) {
	err := ConfigError("vector_store.backend must be one of sqlite, flat, hnsw", nil).
		WithSuggestion("fix .forge.yaml")

	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: vector_store.backend")
	assert.Contains(t, out, "Hint: fix .forge.yaml")
	assert.Contains(t, out, "Code: ERR_101_CONFIG_INVALID")

	assert.Empty(t, FormatForCLI(nil))
	assert.Contains(t, FormatForCLI(stderrors.New("x")), ErrCodeInternal)
}

func TestLogAttrs(t *testing.T) {
	err := FileError(ErrCodeFileRead, "src/a.js", fs.ErrPermission)
	attrs := LogAttrs(err)
	require.NotEmpty(t, attrs)
	assert.Len(t, attrs, 5) // code, message, class, cause, detail_file
	assert.Nil(t, LogAttrs(nil))
}
