// Package types provides type definitions for structured data used throughout the resume analyzer.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure of the analysis pipeline or the record read path
type ErrorKind string

// Write-path kinds, one per pipeline stage
const (
	KindUploadFailed      ErrorKind = "UploadFailed"
	KindConversionFailed  ErrorKind = "ConversionFailed"
	KindInferenceFailed   ErrorKind = "InferenceFailed"
	KindMalformedAIOutput ErrorKind = "MalformedAIOutput"
	KindPersistenceFailed ErrorKind = "PersistenceFailed"
)

// Read-path kinds
const (
	KindNotFound      ErrorKind = "NotFound"
	KindCorruptRecord ErrorKind = "CorruptRecord"
)

// Kinds raised before a run starts
const (
	KindInvalidSubmission ErrorKind = "InvalidSubmission"
	KindUnauthenticated   ErrorKind = "Unauthenticated"
)

// AnalysisError is the single concrete error type carried by failed runs and record lookups
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// NewError creates an AnalysisError of the given kind
func NewError(kind ErrorKind, message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the ErrorKind of the first AnalysisError in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
