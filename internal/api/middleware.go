package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LaTars4444/laeoutreach/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// APIError is the body of every error response the entitlement API writes.
// The 402 capability_required body is separate; see WriteCapabilityRequired.
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"error"`
	Status    int               `json:"status"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// withRequestContext tags every request with an ID (the caller's
// X-Request-ID when present), echoes it back, turns handler panics into 500s
// and logs responses that are not 2xx or 402.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, requestID := logging.WithRequestID(r.Context(), strings.TrimSpace(r.Header.Get(requestIDHeader)))
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		logger := logging.FromContext(ctx)

		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error().
					Interface("panic", recovered).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Entitlement API handler panicked")
				if rec.status == 0 {
					writeError(rec, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", nil)
				}
			}
		}()

		next.ServeHTTP(rec, r)

		// 402 is an ordinary entitlement outcome, not a failure.
		if status := rec.statusCode(); status >= 400 && status != http.StatusPaymentRequired {
			logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("elapsed", time.Since(start)).
				Msg("Entitlement API request failed")
		}
	})
}

// writeError writes an APIError carrying the request's ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	writeJSON(w, status, APIError{
		Code:      code,
		Message:   message,
		Status:    status,
		RequestID: logging.RequestIDFromContext(r.Context()),
		Details:   details,
	})
}

// writeInternalError logs err against the request and answers with message
// only, so storage errors never reach clients.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logger := logging.FromContext(r.Context())
	logger.Error().Err(err).Msg(message)
	writeError(w, r, http.StatusInternalServerError, "internal_error", message, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode API response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status != 0 {
		return
	}
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) statusCode() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
