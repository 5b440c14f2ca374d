package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classlink/config"
	"classlink/internal/handler"
	"classlink/internal/middleware"
	"classlink/internal/redis"
	"classlink/internal/services"
	"classlink/internal/transport/httpdto"
	"classlink/pkg/database"
	"classlink/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Notification *handler.NotificationHandler
	Presence     *handler.PresenceHandler
	WebSocket    *WebSocketHandler
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) SetupRoutes(handlers *Handlers, authService *services.AuthService, limiter *redis.RateLimiter) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if err := database.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	auth := middleware.AuthMiddleware(authService)

	conversations := s.engine.Group("/v1/conversations", auth)
	{
		conversations.GET("", handlers.Conversation.List)
		conversations.POST("", handlers.Conversation.CreateGroup)
		conversations.GET("/:id", handlers.Conversation.GetByID)
		conversations.DELETE("/:id", handlers.Conversation.Delete)
		conversations.POST("/:id/read", handlers.Conversation.MarkRead)
		conversations.GET("/:id/messages", handlers.Message.List)
	}

	messages := s.engine.Group("/v1/messages", auth)
	{
		if limiter != nil {
			messages.POST("", middleware.MessageRateLimitMiddleware(limiter), handlers.Message.Send)
			messages.POST("/:id/reactions", middleware.ReactionRateLimitMiddleware(limiter), handlers.Message.ToggleReaction)
		} else {
			messages.POST("", handlers.Message.Send)
			messages.POST("/:id/reactions", handlers.Message.ToggleReaction)
		}
		messages.PATCH("/:id", handlers.Message.Edit)
		messages.DELETE("/:id", handlers.Message.Delete)
		messages.POST("/batch-delete", handlers.Message.BatchDelete)
	}

	notifications := s.engine.Group("/v1/notifications", auth)
	{
		notifications.GET("", handlers.Notification.List)
		notifications.POST("/:id/read", handlers.Notification.MarkRead)
		notifications.POST("/read-all", handlers.Notification.MarkAllRead)
	}

	presence := s.engine.Group("/v1/presence", auth)
	{
		presence.GET("/:userID", handlers.Presence.Get)
		presence.POST("/query", handlers.Presence.Query)
	}

	events := s.engine.Group("/v1/events", auth)
	{
		events.POST("/class-update", handlers.Notification.NotifyClassUpdate)
		events.POST("/class-comment", handlers.Notification.NotifyClassComment)
		events.POST("/membership", handlers.Notification.MembershipEvent)
	}

	s.engine.GET("/ws", handlers.WebSocket.Handle)
}

func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
