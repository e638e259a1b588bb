// Package server exposes the session manager over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/authrelay/pkg/logging"
	"github.com/entrhq/authrelay/pkg/session"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("server")
	if err != nil {
		debugLog.Warnf("Failed to initialize server logger, using stderr fallback: %v", err)
	}
}

const maxBodyBytes = 64 << 10

// Sessions is the manager surface the HTTP layer needs.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.StartResult, error)
	Capture(ctx context.Context, id string) (*session.CaptureResult, error)
	Relay(ctx context.Context, req session.RelayRequest) (*session.RelayResult, error)
	Cleanup(id string)
	Get(id string) (session.Info, error)
	List() []session.Info
}

// Options configures the HTTP surface.
type Options struct {
	// MetricsEnabled mounts the Prometheus handler on /metrics
	MetricsEnabled bool
}

// Server routes HTTP requests to a session manager.
type Server struct {
	sessions Sessions
	router   chi.Router
}

// New builds the router.
func New(sessions Sessions, opts Options) *Server {
	s := &Server{sessions: sessions}

	r := chi.NewRouter()
	r.Use(recoverMiddleware)
	r.Use(logMiddleware)

	r.Get("/healthz", s.handleHealth)
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleStart)
		r.Get("/{sessionID}", s.handleGet)
		r.Post("/{sessionID}/capture", s.handleCapture)
		r.Post("/{sessionID}/interact", s.handleInteract)
		r.Post("/{sessionID}/cleanup", s.handleCleanup)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type startRequest struct {
	OwnerID  string `json:"ownerId"`
	LoginURL string `json:"loginUrl,omitempty"`
}

type startResponse struct {
	SessionID string    `json:"sessionId"`
	TunnelURL string    `json:"tunnelUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type captureResponse struct {
	OK     bool   `json:"ok"`
	Token  string `json:"token,omitempty"`
	Scheme string `json:"scheme,omitempty"`
	UID    *int64 `json:"uid,omitempty"`
	Header string `json:"header,omitempty"`
	Source string `json:"source,omitempty"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type interactRequest struct {
	Action string   `json:"action"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}

	res, err := s.sessions.Start(r.Context(), session.StartRequest{OwnerID: req.OwnerID, LoginURL: req.LoginURL})
	if err != nil {
		status, code := classify(err)
		respondError(w, status, code, err)
		return
	}

	respondJSON(w, http.StatusCreated, startResponse{
		SessionID: res.SessionID,
		TunnelURL: res.TunnelURL,
		ExpiresAt: res.ExpiresAt,
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	res, err := s.sessions.Capture(r.Context(), id)
	if err != nil {
		status, code := classify(err)
		respondError(w, status, code, err)
		return
	}

	if !res.OK {
		respondJSON(w, http.StatusOK, captureResponse{OK: false, Reason: res.Reason})
		return
	}
	tok := res.Token
	respondJSON(w, http.StatusOK, captureResponse{
		OK:     true,
		Token:  tok.Value,
		Scheme: tok.Scheme,
		UID:    tok.UID,
		Header: tok.Header(),
		Source: tok.Source,
		Key:    tok.Key,
	})
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}

	res, err := s.sessions.Relay(r.Context(), session.RelayRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		Action:    req.Action,
		X:         req.X,
		Y:         req.Y,
	})
	if err != nil {
		status, code := classify(err)
		if code == CodeInternal {
			code = CodeRelayFailed
		}
		respondError(w, status, code, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.sessions.Cleanup(chi.URLParam(r, "sessionID"))
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		status, code := classify(err)
		respondError(w, status, code, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

// decodeBody reads a JSON object. An empty body decodes as the zero value so
// that field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				debugLog.Errorf("Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				respondError(w, http.StatusInternalServerError, CodeInternal, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		debugLog.Debugf("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
