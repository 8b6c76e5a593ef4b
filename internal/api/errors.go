// Package api is the HTTP boundary: request decoding and validation, the
// error taxonomy, response shaping and the streaming endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/adscan/internal/middleware"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "BadRequest"
	KindValidationRejected  ErrorKind = "ValidationRejected"
	KindUpstreamFetchFailed ErrorKind = "UpstreamFetchFailed"
	KindRateLimited         ErrorKind = "RateLimited"
	KindStoreNotRecognised  ErrorKind = "StoreNotRecognised"
	KindWorkerTimeout       ErrorKind = "WorkerTimeout"
	KindWorkerOOM           ErrorKind = "WorkerOOM"
	KindResponseTooLarge    ErrorKind = "ResponseTooLarge"
	KindInternal            ErrorKind = "Internal"
)

// Status maps an error kind to its HTTP status code.
func (k ErrorKind) Status() int {
	switch k {
	case KindBadRequest, KindValidationRejected:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamFetchFailed:
		return http.StatusBadGateway
	case KindResponseTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// apiError is the JSON error body.
type apiError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, kind ErrorKind, message string, details any) {
	if kind == KindInternal {
		middleware.LoggerFromRequest(r, zap.L()).Error("internal error",
			zap.String("message", message), zap.Stack("stack"))
	}
	writeJSON(w, kind.Status(), errorEnvelope{Error: apiError{Kind: kind, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
