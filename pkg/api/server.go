// Package api exposes this module's external HTTP surface: provider
// webhook ingestion, the webhook event log, the run SSE stream, and a
// thin set of sandbox-control endpoints. It is deliberately not a
// general REST CRUD surface — everything else a full assistant backend
// needs (chat, sessions, auth) lives outside this module's scope.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/database"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/threadlock"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/version"
)

// Server wires every component this package's handlers call into. It
// holds no state of its own beyond those references.
type Server struct {
	sandboxes *sandbox.Manager
	ingester  *providerevent.Ingester
	events    *providerevent.Store
	runs      *runstream.Store
	threads   *threadlock.Registry
	db        *database.Client

	router *gin.Engine
}

// NewServer builds a Server and registers every route.
func NewServer(
	sandboxes *sandbox.Manager,
	ingester *providerevent.Ingester,
	events *providerevent.Store,
	runs *runstream.Store,
	threads *threadlock.Registry,
	db *database.Client,
) *Server {
	s := &Server{
		sandboxes: sandboxes,
		ingester:  ingester,
		events:    events,
		runs:      runs,
		threads:   threads,
		db:        db,
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.registerRoutes()
	return s
}

// Router returns the underlying gin engine, e.g. for httptest.
func (s *Server) Router() http.Handler { return s.router }

// Run starts the HTTP server on addr, blocking until it errors or the
// process is stopped.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)

	s.router.POST("/webhooks/:provider", s.ingestWebhookHandler)
	s.router.GET("/webhooks/events", s.listWebhookEventsHandler)

	s.router.GET("/runs/:thread_id/stream", s.streamRunHandler)

	s.router.POST("/sandboxes/:thread_id/pause", s.pauseSandboxHandler)
	s.router.POST("/sandboxes/:thread_id/resume", s.resumeSandboxHandler)
	s.router.DELETE("/sandboxes/:thread_id", s.destroySandboxHandler)

	s.router.DELETE("/threads/:thread_id", s.deleteThreadHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := newRequestContext(c, 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "version": version.Full(), "database": dbHealth, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "database": dbHealth})
}
