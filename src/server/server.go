package server

import (
	"fmt"
	"strings"

	"price-relay/src/logger"
	"price-relay/src/models"
	"price-relay/src/relay"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// RelayServer
// -----------------------------------------------------------------------------

type RelayServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Relay  *relay.Service
	engine *gin.Engine

	// WebSocket clients
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewRelayServer(cfg *models.MConfig, svc *relay.Service, log *logger.Logger) *RelayServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &RelayServer{
		Config:     cfg,
		Logger:     log,
		Relay:      svc,
		engine:     gin.Default(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *RelayServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/status", s.getStatus)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *RelayServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting relay server on %s", addr)

	go s.runHub()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) Stop() error {
	close(s.register)
	close(s.unregister)
	return nil
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *RelayServer) getHealth(c *gin.Context) {
	stats := s.Relay.Stats()

	status := "ok"
	if stats.UpstreamAlarmed {
		status = "degraded"
	}

	c.JSON(200, gin.H{
		"status":             status,
		"connections":        stats.Clients,
		"upstream_connected": stats.UpstreamState == "connected",
	})
}

// -----------------------------------------------------------------------------

// getStatus returns the full read-only snapshot of the relay's state.
func (s *RelayServer) getStatus(c *gin.Context) {
	c.JSON(200, s.Relay.Stats())
}
