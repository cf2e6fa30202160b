// Package api provides HTTP handlers and the main API server for the lead
// qualification service.
//
// It exposes a chat endpoint that routes each turn either through the BANT
// qualification engine or the onboarding field-collection machine, plus
// history retrieval and a health check.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/convoflow/leadqual/internal/flow"
	"github.com/convoflow/leadqual/internal/models"
	"github.com/convoflow/leadqual/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures API server options.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the HTTP endpoints and routes turns into the engine.
type Server struct {
	engine *flow.Engine
	st     store.Store
	httpd  *http.Server
}

// NewServer creates an API server around the qualification engine.
func NewServer(engine *flow.Engine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{engine: engine, st: st}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/onboarding/start", s.onboardingStartHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpd = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpd.Addr)
		errCh <- s.httpd.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpd.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down API server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}
}

// chatRequest is the inbound payload for POST /chat.
type chatRequest struct {
	SessionID string `json:"sessionId"`
	AdminID   string `json:"adminId,omitempty"`
	Message   string `json:"message"`
}

func (r chatRequest) validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// chatHandler handles POST /chat. A session with an open onboarding flow is
// routed into the field-collection machine; everything else goes through the
// qualification engine.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("chatHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("chatHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.validate(); err != nil {
		slog.Warn("chatHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx := r.Context()

	inOnboarding, err := s.engine.InOnboarding(ctx, req.SessionID)
	if err != nil {
		slog.Error("chatHandler onboarding check failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve session state"))
		return
	}

	if inOnboarding {
		prompt, err := s.engine.HandleOnboardingTurn(ctx, req.SessionID, req.AdminID, req.Message)
		if err != nil {
			slog.Error("chatHandler onboarding turn failed", "error", err, "sessionID", req.SessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(prompt))
		return
	}

	result, err := s.engine.HandleTurn(ctx, req.SessionID, req.Message)
	if err != nil {
		slog.Error("chatHandler qualification turn failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// onboardingStartHandler handles POST /onboarding/start, opening a
// field-collection flow for a session.
func (s *Server) onboardingStartHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("onboardingStartHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("onboardingStartHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("sessionId is required"))
		return
	}

	prompt, err := s.engine.HandleOnboardingTurn(r.Context(), req.SessionID, req.AdminID, "")
	if err != nil {
		slog.Error("onboardingStartHandler failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start onboarding"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(prompt))
}

// sessionHandler handles GET /sessions/{id}/messages.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("sessionHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sessionID, tail, _ := strings.Cut(rest, "/")
	if sessionID == "" || tail != "messages" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}

	messages, err := s.st.Messages(r.Context(), sessionID)
	if err != nil {
		slog.Error("sessionHandler history load failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
