package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code and message so wrapped sentinels
// compare equal after NewDomainErrorWithCause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap attaches a cause to a sentinel while keeping errors.Is(err, sentinel) true.
func Wrap(sentinel *DomainError, err error) *DomainError {
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, err)
}

// CodeOf returns the code of the first DomainError in err's chain.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeTransient        = "TRANSIENT_ERROR"
	ErrCodeMalformedInput   = "MALFORMED_INPUT"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidChunkConfig   = NewDomainError(ErrCodeValidation, "invalid chunk configuration")
	ErrInvalidUnitStatus    = NewDomainError(ErrCodeValidation, "invalid unit status")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query is required")
	ErrInvalidSearchMode    = NewDomainError(ErrCodeValidation, "invalid search mode")
)

// Not found errors
var (
	ErrProceedingNotFound = NewDomainError(ErrCodeNotFound, "proceeding not found")
	ErrDocumentNotFound   = NewDomainError(ErrCodeNotFound, "document not found")
	ErrCollectionNotFound = NewDomainError(ErrCodeNotFound, "vector collection not found")
	ErrSourceNotFound     = NewDomainError(ErrCodeNotFound, "source object not found")
)

// Configuration errors are fatal at startup.
var (
	ErrInvalidConfig     = NewDomainError(ErrCodeConfiguration, "invalid configuration")
	ErrDimensionMismatch = NewDomainError(ErrCodeConfiguration, "vector dimensionality does not match collection")
	ErrUnknownBackend    = NewDomainError(ErrCodeConfiguration, "unknown vector backend")
	ErrUnknownProvider   = NewDomainError(ErrCodeConfiguration, "unknown embedding provider")
	ErrMissingAPIKey     = NewDomainError(ErrCodeConfiguration, "embedding provider api key not set")
	ErrRerankUnavailable = NewDomainError(ErrCodeConfiguration, "reranker not configured")
)

// Ingestion errors
var (
	ErrMalformedPDF      = NewDomainError(ErrCodeMalformedInput, "pdf could not be parsed")
	ErrEmptyText         = NewDomainError(ErrCodeMalformedInput, "document has no extractable text")
	ErrNoContent         = NewDomainError(ErrCodeMalformedInput, "document has no pdf content")
	ErrPDFTooLarge       = NewDomainError(ErrCodeMalformedInput, "pdf exceeds size limit")
	ErrSourceUnavailable = NewDomainError(ErrCodeTransient, "source temporarily unavailable")
	ErrRetriesExhausted  = NewDomainError(ErrCodeTransient, "retries exhausted")
)
