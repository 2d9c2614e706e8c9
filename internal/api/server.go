// Package api exposes the monitoring and control surface over HTTP: health
// and dashboard reads, operator-authenticated control actions, and a
// websocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gap-trading-bot/internal/cache"
	"gap-trading-bot/internal/events"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/ops"
)

// GapLister exposes the current working set of active gaps
type GapLister interface {
	Active() []gap.Event
}

// Config holds HTTP server settings
type Config struct {
	Addr           string        `json:"addr"`
	AllowedOrigins []string      `json:"allowed_origins"`
	TokenTTL       time.Duration `json:"token_ttl"`
}

// DefaultConfig returns local development settings
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		TokenTTL:       12 * time.Hour,
	}
}

// Server is the monitoring API
type Server struct {
	config     *Config
	controller *ops.Controller
	cache      *cache.Service
	gaps       GapLister
	hub        *wsHub
	operators  map[string]Operator
	jwtSecret  string
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer creates the API server. operators maps usernames to provisioned
// accounts; jwtSecret signs session tokens.
func NewServer(config *Config, controller *ops.Controller, cacheService *cache.Service, gaps GapLister, bus *events.Bus, operators []Operator, jwtSecret string, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:     config,
		controller: controller,
		cache:      cacheService,
		gaps:       gaps,
		hub:        newWSHub(bus),
		operators:  make(map[string]Operator, len(operators)),
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
	for _, op := range operators {
		s.operators[op.Username] = op
	}
	return s
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", s.handleHealth)
	router.POST("/api/v1/auth/login", s.handleLogin)
	router.GET("/ws", s.handleWS)

	authed := router.Group("/api/v1", s.requireAuth())
	{
		authed.GET("/dashboard", s.handleDashboard)
		authed.GET("/funnel", s.handleFunnel)
		authed.GET("/heartbeat", s.handleHeartbeat)
		authed.GET("/gaps", s.handleGaps)

		control := authed.Group("/control", s.requireAdmin())
		{
			control.POST("/pause", s.handlePause)
			control.POST("/resume", s.handleResume)
			control.POST("/maintenance", s.handleMaintenance)
			control.POST("/emergency-stop", s.handleEmergencyStop)
		}
	}
	return router
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	hb := s.controller.Heartbeat()
	status := http.StatusOK
	if hb.State == ops.StateEmergencyStop || hb.State == ops.StateShutdown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    "ok",
		"state":     hb.State,
		"uptime_s":  hb.UptimeSeconds,
		"timestamp": hb.Timestamp,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	op, ok := s.authenticate(req.Username, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := s.issueToken(op)
	if err != nil {
		s.logger.Error().Err(err).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": op.Role})
}

// handleDashboard serves the cached snapshot when fresh, otherwise builds
// one live and refreshes the cache
func (s *Server) handleDashboard(c *gin.Context) {
	if s.cache != nil {
		if snap, ok := s.cache.LoadSnapshot(c.Request.Context()); ok {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	snap := s.controller.Snapshot()
	if s.cache != nil {
		if err := s.cache.StoreSnapshot(c.Request.Context(), snap); err != nil {
			s.logger.Debug().Err(err).Msg("snapshot cache refresh failed")
		}
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleFunnel(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.FunnelCounts())
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Heartbeat())
}

func (s *Server) handleGaps(c *gin.Context) {
	var active []gap.Event
	if s.gaps != nil {
		active = s.gaps.Active()
	}
	if active == nil {
		active = []gap.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(active), "gaps": active})
}

type controlRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePause(c *gin.Context) {
	var req controlRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "paused by " + c.GetString("operator")
	}
	if err := s.controller.Pause(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.controller.State()})
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.controller.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.controller.State()})
}

func (s *Server) handleMaintenance(c *gin.Context) {
	var req controlRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "maintenance by " + c.GetString("operator")
	}
	if err := s.controller.Maintenance(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.controller.State()})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req controlRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "emergency stop by " + c.GetString("operator")
	}
	if err := s.controller.EmergencyStop(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.controller.State()})
}
