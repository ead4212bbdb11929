// Package httpapi is the read-only REST surface over the runtime:
// agent roster, delegation history, and traces. Mutations go through
// the WebSocket gateway or the CLI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// Config assembles the API server.
type Config struct {
	Addr string
	// Token guards every /v1 route as a bearer token. Empty leaves the
	// API open.
	Token string
	// Limiter, when set, bounds requests per remote host. Shared with
	// the gateway so one budget covers both surfaces.
	Limiter *gateway.RateLimiter
}

// Deps are the runtime collaborators the handlers read from.
type Deps struct {
	Engine   *delegation.Engine
	Registry *agent.Registry
	History  store.DelegationStore
	Traces   store.TracingStore
}

// Server serves the REST API.
type Server struct {
	addr    string
	limiter *gateway.RateLimiter
	handler http.Handler
	srv     *http.Server
}

func NewServer(cfg Config, deps Deps) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)

	NewAgentsHandler(deps.Engine, deps.Registry, cfg.Token).RegisterRoutes(mux)
	NewDelegationsHandler(deps.Engine, deps.History, cfg.Token).RegisterRoutes(mux)
	NewTracesHandler(deps.Traces, cfg.Token).RegisterRoutes(mux)

	s := &Server{addr: cfg.Addr, limiter: cfg.Limiter}
	s.handler = s.withRateLimit(mux)
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start blocks serving the API until Shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	slog.Info("http api listening", "addr", s.addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && r.URL.Path != "/healthz" {
			if !s.limiter.Allow(remoteHost(r)) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
