package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/collector/internal/domain"
)

const (
	codeBadRequest = "BAD_REQUEST"
	codeNotFound   = "NOT_FOUND"
	codeConflict   = "CONFLICT"
	codeInternal   = "INTERNAL_ERROR"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

// ErrorEnvelope wraps ErrorBody under "error".
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, ErrorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: GetRequestID(r.Context()),
	}})
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without leaking internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	var ce *domain.ConflictError

	switch {
	case errors.As(err, &ve):
		writeErrorEnvelope(w, r, http.StatusBadRequest, codeBadRequest, "Validation failed", ve.Errors)
	case errors.Is(err, domain.ErrValidation):
		writeErrorEnvelope(w, r, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		writeErrorEnvelope(w, r, http.StatusNotFound, codeNotFound, notFoundMessage(err), nil)
	case errors.As(err, &ce):
		writeErrorEnvelope(w, r, http.StatusConflict, codeConflict, ce.Message, map[string]string{"reason": string(ce.Reason)})
	case errors.Is(err, domain.ErrConflict):
		writeErrorEnvelope(w, r, http.StatusConflict, codeConflict, err.Error(), nil)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeErrorEnvelope(w, r, http.StatusInternalServerError, codeInternal, "Internal server error", nil)
	}
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorEnvelope(w, r, http.StatusBadRequest, codeBadRequest, message, nil)
}

// notFoundMessage turns "case <id>: not found" into "case <id> not found".
func notFoundMessage(err error) string {
	if msg, ok := strings.CutSuffix(err.Error(), ": "+domain.ErrNotFound.Error()); ok {
		return msg + " not found"
	}
	return err.Error()
}
