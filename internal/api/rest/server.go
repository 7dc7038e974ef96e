package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/api/websocket"
	"github.com/KevinKickass/xkop-gateway/internal/auth"
	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	gw          interfaces.Gateway
	cfg         *config.Config
	logger      *zap.Logger
	server      *http.Server
	listener    net.Listener
	wsHub       *websocket.Hub
	authService *auth.AuthService
	hvi         *hviFetcher
}

func NewServer(cfg *config.Config, gw interfaces.Gateway, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		gw:          gw,
		cfg:         cfg,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		hvi:         newHVIFetcher(cfg.HVI),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the HTTP port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = lis

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Inject AuthService into Gin context
	s.router.Use(func(c *gin.Context) {
		c.Set("authService", s.authService)
		c.Next()
	})

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// Unversioned routes used by existing instation scripts and the web UI
	legacy := s.router.Group("")
	legacy.Use(s.authService.AuthMiddleware())
	s.registerGatewayRoutes(legacy)
	legacy.GET("/log/:subsystem", auth.RequirePermission(auth.PermOperator), s.getLog)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		protected := v1.Group("")
		protected.Use(s.authService.AuthMiddleware())
		{
			protected.GET("/auth/me", s.getCurrentUser)

			s.registerGatewayRoutes(protected)
			protected.GET("/logs/:subsystem", auth.RequirePermission(auth.PermOperator), s.getLog)
			protected.GET("/audit", auth.RequirePermission(auth.PermOperator), s.getAudit)

			// ==================== SYSTEM ====================
			protected.GET("/system/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			protected.POST("/system/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)

			protected.GET("/ws/status", auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		v1.GET("/ws/live", s.wsLiveConnection)
	}
}

func (s *Server) registerGatewayRoutes(g *gin.RouterGroup) {
	// Control plane: Operator reads, Technician writes
	g.GET("/snmp/get", auth.RequirePermission(auth.PermOperator), s.snmpGet)
	g.POST("/snmp/set", auth.RequirePermission(auth.PermTechnician), s.snmpSet)

	// Configuration: Admin only for changes
	g.GET("/config", auth.RequirePermission(auth.PermOperator), s.getConfig)
	g.POST("/config", auth.RequirePermission(auth.PermAdmin), s.saveConfig)
	g.GET("/state", auth.RequirePermission(auth.PermOperator), s.getState)

	// Test tools: Technician+
	g.GET("/test/mode", auth.RequirePermission(auth.PermOperator), s.getTestMode)
	g.POST("/test/mode", auth.RequirePermission(auth.PermTechnician), s.setTestMode)
	g.POST("/test/input", auth.RequirePermission(auth.PermTechnician), s.testInput)
	g.POST("/test/output", auth.RequirePermission(auth.PermTechnician), s.testOutput)

	// Diagnostics
	g.GET("/hvi", auth.RequirePermission(auth.PermOperator), s.getHVI)
	g.GET("/diag", auth.RequirePermission(auth.PermOperator), s.diag)
	g.GET("/diag/network", auth.RequirePermission(auth.PermOperator), s.diagNetwork)
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
