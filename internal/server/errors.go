// Package server provides the HTTP API for submitting and reading resume analyses.
package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/resume-analyzer/internal/storage"
	"github.com/jonathan/resume-analyzer/internal/types"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.KindInvalidSubmission:
		return http.StatusBadRequest
	case types.KindUnauthenticated:
		return http.StatusUnauthorized
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindMalformedAIOutput, types.KindInferenceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string          `json:"error"`
	Kind  types.ErrorKind `json:"kind,omitempty"`
	ID    string          `json:"id,omitempty"`
}

func newErrorBody(err error) errorBody {
	body := errorBody{Error: err.Error(), Kind: types.KindOf(err)}
	var ae *types.AnalysisError
	if errors.As(err, &ae) {
		body.Error = ae.Message
	}
	if body.Kind == "" && errors.Is(err, storage.ErrNotFound) {
		body.Kind = types.KindNotFound
	}
	return body
}
