// Package api provides the HTTP server: routing, CORS and API-key
// middleware, and wiring of the protocol gateway handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/api/handlers"
	claudeHandlers "github.com/zeroai-dev/zeroai/internal/api/handlers/claude"
	openaiHandlers "github.com/zeroai-dev/zeroai/internal/api/handlers/openai"
	"github.com/zeroai-dev/zeroai/internal/settings"
)

// Server is the HTTP front of the gateway.
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	handlers *handlers.BaseHandler
	cfg      *settings.Settings
}

// NewServer creates and wires the server.
func NewServer(cfg *settings.Settings, base *handlers.BaseHandler) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:   engine,
		handlers: base,
		cfg:      cfg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	openaiHandler := openaiHandlers.NewHandler(s.handlers)
	claudeHandler := claudeHandlers.NewHandler(s.handlers)

	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.cfg))
	{
		v1.GET("/models", openaiHandler.Models)
		v1.POST("/chat/completions", openaiHandler.ChatCompletions)
		v1.POST("/messages", claudeHandler.Messages)
	}

	v0 := s.engine.Group("/v0")
	v0.Use(AuthMiddleware(s.cfg))
	{
		v0.GET("/usage", s.usageHandler)
	}

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "zeroai gateway",
			"endpoints": []string{
				"GET /v1/models",
				"POST /v1/chat/completions",
				"POST /v1/messages",
				"GET /v0/usage",
			},
		})
	})
}

func (s *Server) usageHandler(c *gin.Context) {
	if s.handlers.Usage == nil {
		c.JSON(http.StatusOK, gin.H{"models": gin.H{}})
		return
	}
	snapshot, err := s.handlers.Usage.Snapshot()
	if err != nil {
		handlers.ErrorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": snapshot})
}

// Start begins serving; it blocks until the server stops.
func (s *Server) Start() error {
	log.Infof("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Api-Key, X-Goog-Api-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware enforces the configured inbound API keys. With no keys
// configured every request passes, matching the local-first default.
func AuthMiddleware(cfg *settings.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(cfg.APIKeys) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		apiKey := authHeader
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			apiKey = parts[1]
		}
		candidates := []string{
			apiKey,
			c.GetHeader("X-Api-Key"),
			c.GetHeader("X-Goog-Api-Key"),
			c.Query("key"),
		}

		for _, key := range cfg.APIKeys {
			for _, candidate := range candidates {
				if candidate != "" && candidate == key {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}
