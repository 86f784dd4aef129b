// Package server exposes an agent runtime over HTTP. Each agent is served
// under a deployment-style path so peers and clients address it the same
// way: POST /openai/deployments/{name}/chat/completions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meshkit-ai/meshkit/agent"
	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/logging"
)

// Options configure a Server.
type Options struct {
	// ReadTimeout and WriteTimeout bound the underlying http.Server.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// Server hosts one agent runtime behind an HTTP listener.
type Server struct {
	runtime *agent.Runtime
	httpSrv *http.Server
	logger  logging.Logger
}

// New constructs a Server for the runtime listening on addr.
func New(addr string, rt *agent.Runtime, optFns ...func(o *Options)) *Server {
	opts := Options{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		runtime: rt,
		logger:  logging.OrNoOp(opts.Logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /openai/deployments/{name}/chat/completions", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server.listening", "addr", s.httpSrv.Addr, "agent", s.runtime.Name())

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != s.runtime.Name() {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no deployment named %q on this host", name))
		return
	}

	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	// A bearer header overrides any token already embedded in the body.
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		req.AuthToken = strings.TrimPrefix(auth, "Bearer ")
	}

	resp, err := s.runtime.Handle(r.Context(), &req)
	if err != nil {
		s.logger.Error("server.handle_failed", "agent", s.runtime.Name(), "error", err.Error())
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("server.encode_failed", "agent", s.runtime.Name(), "error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"agent":  s.runtime.Name(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message},
	})
}
