package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"archie-core-connections-layer/internal/domain"

	"github.com/rs/zerolog"
)

// errorResponse is the JSON body of every failed request. Payload carries
// the error's diagnostic fields, never credential material.
type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Payload map[string]string `json:"payload,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMissingConnectionID, domain.KindMissingProviderConfig, domain.KindMissingEnvironment,
		domain.KindIncompleteCredentials, domain.KindUnsupportedAuthMode, domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindUnknownConnection, domain.KindUnknownProviderConfig,
		domain.KindUnknownEnvironment, domain.KindUnknownProvider:
		return http.StatusNotFound
	case domain.KindConnectionAlreadyExists:
		return http.StatusConflict
	case domain.KindRefreshFailed:
		return http.StatusBadGateway
	case domain.KindUpstreamProxyError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Untyped errors are logged and reported as
// a generic server error.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "server_error",
			Message: "internal server error",
		})
		return
	}

	status := statusFor(derr.Kind)
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Str("errorKind", string(derr.Kind)).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")

	message := derr.Message
	if message == "" {
		message = string(derr.Kind)
	}
	writeJSON(w, status, errorResponse{
		Error:   string(derr.Kind),
		Message: message,
		Payload: derr.Fields,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(message string) error {
	return domain.NewError(domain.KindInvalidRequest, message)
}
