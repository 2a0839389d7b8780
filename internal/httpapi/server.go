// Package httpapi is the HTTP boundary: request shaping, routing,
// middleware, and translation of core errors into the documented bodies.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaywave/wagateway/internal/aiproxy"
	"github.com/relaywave/wagateway/internal/media"
	"github.com/relaywave/wagateway/internal/session"
	"github.com/relaywave/wagateway/internal/store"
)

// Sessions is the supervisor surface the handlers call, satisfied by
// *session.Supervisor.
type Sessions interface {
	CreateOrResume(ctx context.Context, userID int64, agentID, agentName, apiKey string) (*session.StatusView, error)
	GetStatus(ctx context.Context, agentID string) (*session.StatusView, error)
	Reconnect(ctx context.Context, agentID string) (*session.StatusView, error)
	Delete(ctx context.Context, agentID string) (*session.DeleteResult, error)
	GenerateQR(ctx context.Context, agentID string) (*session.QRResult, error)
	SendText(ctx context.Context, agentID, to, message, quotedID string) (*session.SendResult, error)
	SendMedia(ctx context.Context, agentID, to string, in media.Input, caption string) (*session.SendResult, error)
}

// AgentReader is the persistence surface the auth middleware and the run
// handler need, satisfied by *store.Store.
type AgentReader interface {
	GetAgentByID(ctx context.Context, agentID string) (*store.AgentRecord, error)
	SyncAPIKey(ctx context.Context, userID int64, agentID string) error
}

// AI is the proxy surface the run handler calls, satisfied by
// *aiproxy.Proxy.
type AI interface {
	ExecuteRun(ctx context.Context, rec *store.AgentRecord, payload interface{}, traceID string) (*aiproxy.RunResult, error)
}

// MetricsHandler serves the Prometheus exposition.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server wires the gateway's HTTP surface.
type Server struct {
	sessions Sessions
	agents   AgentReader
	ai       AI
	router   *mux.Router
	started  time.Time
}

// New assembles the router with the full middleware chain.
func New(sessions Sessions, agents AgentReader, ai AI, m MetricsHandler, corsOrigins []string) *Server {
	s := &Server{
		sessions: sessions,
		agents:   agents,
		ai:       ai,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}

	s.router.Use(traceMiddleware)
	s.router.Use(corsMiddleware(corsOrigins))
	s.router.Use(logMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{agentId}", s.handleGetSession).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{agentId}", s.handleDeleteSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/sessions/{agentId}/reconnect", s.handleReconnect).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{agentId}/qr", s.handleGenerateQR).Methods(http.MethodPost)

	authed := s.router.PathPrefix("/agents").Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/{agentId}/run", s.handleRun).Methods(http.MethodPost)
	authed.HandleFunc("/{agentId}/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/{agentId}/media", s.handleSendMedia).Methods(http.MethodPost)

	return s
}

// Handler exposes the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}
