// Package gateway is the HTTP surface: the agent endpoints, the project
// management CRUD API, follow-up management, and the operational endpoints.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/internal/auth"
	"github.com/zentrohq/zentro/internal/config"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
)

// Server wires the runtime, store, and auth into an http.Server.
type Server struct {
	cfg     config.ServerConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	store   *store.Store
	runtime *agent.Runtime
	issuer  *auth.Issuer

	httpServer *http.Server
}

// Deps carries everything a Server needs. All fields are required.
type Deps struct {
	Config  config.ServerConfig
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Store   *store.Store
	Runtime *agent.Runtime
	Issuer  *auth.Issuer
}

// NewServer builds the server and its route table.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("gateway: logger is required")
	case deps.Store == nil:
		return nil, errors.New("gateway: store is required")
	case deps.Runtime == nil:
		return nil, errors.New("gateway: runtime is required")
	case deps.Issuer == nil:
		return nil, errors.New("gateway: token issuer is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		store:   deps.Store,
		runtime: deps.Runtime,
		issuer:  deps.Issuer,
	}
	s.httpServer = &http.Server{
		Addr:              deps.Config.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       deps.Config.ReadTimeout,
		// WriteTimeout caps whole streaming runs, not just CRUD responses.
		WriteTimeout: deps.Config.WriteTimeout,
	}
	return s, nil
}

// Routes builds the full handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("POST /api/auth/token", s.handleAuthToken)

	authed := auth.Middleware(s.issuer)

	mux.Handle("POST /api/agent/run", authed(http.HandlerFunc(s.handleAgentRun)))
	mux.Handle("POST /api/agent/run/stream", authed(http.HandlerFunc(s.handleAgentRunStream)))
	mux.Handle("GET /api/agent/chats", authed(http.HandlerFunc(s.handleListChats)))
	mux.Handle("GET /api/agent/chats/{thread_id}/history", authed(http.HandlerFunc(s.handleChatHistory)))

	mux.Handle("POST /api/tasks", authed(http.HandlerFunc(s.handleCreateTask)))
	mux.Handle("GET /api/tasks/{id}", authed(http.HandlerFunc(s.handleGetTask)))
	mux.Handle("PATCH /api/tasks/{id}/status", authed(http.HandlerFunc(s.handleUpdateTaskStatus)))

	mux.Handle("POST /api/projects", authed(http.HandlerFunc(s.handleCreateProject)))
	mux.Handle("GET /api/projects/{id}", authed(http.HandlerFunc(s.handleGetProject)))
	mux.Handle("POST /api/projects/{id}/members", authed(http.HandlerFunc(s.handleAddProjectMember)))

	mux.Handle("GET /api/followups", authed(http.HandlerFunc(s.handleListFollowUps)))
	mux.Handle("GET /api/followups/stats", authed(http.HandlerFunc(s.handleFollowUpStats)))
	mux.Handle("POST /api/followups/{id}/acknowledge", authed(http.HandlerFunc(s.handleAcknowledgeFollowUp)))

	return s.requestMiddleware(mux)
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info(context.Background(), "http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestMiddleware assigns a request id, logs, and records metrics for
// every request.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := observability.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
		}
		s.logger.Info(ctx, "http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusRecorder captures the response status while passing Flusher through
// for SSE handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
