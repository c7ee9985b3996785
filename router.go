package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/pkg/config"
	"github.com/agentdesk/agentdesk/pkg/event"
	"github.com/agentdesk/agentdesk/pkg/handler"
	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, database *gorm.DB) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: the dashboard and chat pages are served from a
	// separate front end during development.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
				c.Header("Access-Control-Allow-Credentials", "true")
			} else {
				// Reject unknown origins.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	attachStatic(ginEngine)

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
		port:      0,
	}

	server.SetupRoutes(database)

	return server
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful if we ever switch to :0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes(database *gorm.DB) {
	clientCache := service.NewClientCache()

	authService := service.NewAuthService(database)
	paymentService := service.NewPaymentService(authService)
	agentService := service.NewAgentService(database, clientCache)
	conversationService := service.NewConversationService(database)
	brandingService := service.NewBrandingService(database)
	sessionManager := service.NewSessionManager(conversationService, clientCache, s.cfg)
	inboxManager := service.NewInboxManager(conversationService)

	authHandler := handler.NewAuthHandler(authService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	agentHandler := handler.NewAgentHandler(agentService, authHandler)
	chatHandler := handler.NewChatHandler(agentService, sessionManager)
	inboxHandler := handler.NewInboxHandler(inboxManager, authHandler)
	brandingHandler := handler.NewBrandingHandler(brandingService, authHandler)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info (for clients to discover correct base URLs)
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		port := s.port
		if port == 0 {
			port = s.cfg.Port()
		}

		httpBase := fmt.Sprintf("http://%s:%d", host, port)
		wsBase := fmt.Sprintf("ws://%s:%d", host, port)
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: httpBase,
			WSBaseURL:   wsBase,
			Port:        port,
		})
	})

	authHandler.RegisterRoutes(apiGroup)
	paymentHandler.RegisterRoutes(apiGroup)
	agentHandler.RegisterRoutes(apiGroup)
	chatHandler.RegisterRoutes(apiGroup)
	inboxHandler.RegisterRoutes(apiGroup)
	brandingHandler.RegisterRoutes(apiGroup)

	// WebSocket push for dashboards that want updates faster than the poll
	// cadence. Polling stays the source of truth.
	wsHandler := event.NewWSHandler()
	apiGroup.GET("/events/ws", wsHandler.Handle)
}
