package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrCodeNotFound, "document not found")
	assert.Equal(t, "[NOT_FOUND] document not found", err.Error())

	wrapped := NewDomainErrorWithCause(ErrCodeInternalError, "insert failed", errors.New("boom"))
	assert.Equal(t, "[INTERNAL_ERROR] insert failed: boom", wrapped.Error())
}

func TestWrap_KeepsSentinelIdentity(t *testing.T) {
	cause := errors.New("vector length 128, collection 384")
	err := fmt.Errorf("upsert: %w", Wrap(ErrDimensionMismatch, cause))

	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrUnknownBackend))
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestCodeOf_NonDomain(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
