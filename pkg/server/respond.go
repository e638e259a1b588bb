package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/entrhq/authrelay/pkg/browser"
	"github.com/entrhq/authrelay/pkg/ports"
	"github.com/entrhq/authrelay/pkg/session"
	"github.com/entrhq/authrelay/pkg/tunnel"
)

// Error codes returned in the "code" field.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeValidation        = "validation_failed"
	CodeSessionNotFound   = "session_not_found"
	CodeShuttingDown      = "shutting_down"
	CodeMissingCredential = "missing_credential"
	CodeTunnelTimeout     = "tunnel_timeout"
	CodeTunnelExited      = "tunnel_exited"
	CodePortTimeout       = "port_timeout"
	CodeLaunchFailed      = "launch_failed"
	CodeNavigationFailed  = "navigation_failed"
	CodePortsExhausted    = "ports_exhausted"
	CodeRelayFailed       = "relay_failed"
	CodeInternal          = "internal_error"
)

type errorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Timestamp string `json:"timestamp"`
}

func setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

// respondJSON sends payload with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	setHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error.
func respondError(w http.ResponseWriter, status int, code string, err error) {
	setHeaders(w)
	w.WriteHeader(status)

	response := errorResponse{
		Status:    status,
		Code:      code,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		response.Message = err.Error()
	}
	var se *session.StartError
	if errors.As(err, &se) {
		response.Stage = se.Stage
	}
	response.Error = response.Message
	_ = json.NewEncoder(w).Encode(response)
}

// classify maps a manager error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, session.ErrShutdown):
		return http.StatusServiceUnavailable, CodeShuttingDown
	case errors.Is(err, tunnel.ErrMissingCredential):
		return http.StatusInternalServerError, CodeMissingCredential
	case errors.Is(err, tunnel.ErrTunnelTimeout):
		return http.StatusInternalServerError, CodeTunnelTimeout
	case errors.Is(err, tunnel.ErrTunnelExited):
		return http.StatusInternalServerError, CodeTunnelExited
	case errors.Is(err, browser.ErrPortTimeout):
		return http.StatusInternalServerError, CodePortTimeout
	case errors.Is(err, browser.ErrNavigation):
		return http.StatusInternalServerError, CodeNavigationFailed
	case errors.Is(err, browser.ErrLaunch):
		return http.StatusInternalServerError, CodeLaunchFailed
	case errors.Is(err, ports.ErrExhausted):
		return http.StatusInternalServerError, CodePortsExhausted
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
