// Package adminapi provides the HTTP surface in front of the worker plane:
// build submission, chat-driven follow-up builds, the admin pause/resume/
// health surface, and the deploy provider's callback.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/limiter"
	"github.com/forgelabs/buildworker/pkg/pipeline"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

// Server is the HTTP API in front of the worker plane's core components.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	initiator   *pipeline.BuildInitiator
	projects    *store.ProjectStore
	builds      *store.BuildStore
	messages    *store.MessageStore
	publisher   *events.EventPublisher
	limits      *limiter.LimitController
	queueRun    *queue.QueueRuntime
	userLimits  *limiter.RedisPorts
	connManager *events.ConnectionManager
}

// NewServer wires a Server against every collaborator its routes touch and
// registers routes immediately. userLimits may be nil, in which case the
// per-user request throttle is skipped entirely. connManager may be nil, in
// which case /ws responds 503 instead of upgrading.
func NewServer(
	initiator *pipeline.BuildInitiator,
	projects *store.ProjectStore,
	builds *store.BuildStore,
	messages *store.MessageStore,
	publisher *events.EventPublisher,
	limits *limiter.LimitController,
	queueRun *queue.QueueRuntime,
	userLimits *limiter.RedisPorts,
	connManager *events.ConnectionManager,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{
		engine: e, initiator: initiator, projects: projects, builds: builds,
		messages: messages, publisher: publisher, limits: limits, queueRun: queueRun,
		userLimits: userLimits, connManager: connManager,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.adminHealthHandler)

	v1 := s.engine.Group("/api/v1", userRateLimit(s.userLimits))
	v1.POST("/builds", s.createBuildHandler)
	v1.POST("/projects/:projectId/messages", s.chatMessageHandler)

	admin := s.engine.Group("/admin")
	admin.POST("/pause", s.adminPauseHandler)
	admin.POST("/resume", s.adminResumeHandler)
	admin.GET("/health", s.adminHealthHandler)

	s.engine.POST("/callbacks/cloudflare-deploy", s.cloudflareDeployCallbackHandler)

	s.engine.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

const healthCheckTimeout = 5 * time.Second
