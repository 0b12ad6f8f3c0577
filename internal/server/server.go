package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/config"
	"peercall/internal/auth"
	"peercall/internal/handler"
	"peercall/internal/middleware"
	"peercall/internal/redis"
	"peercall/internal/transport/httpdto"
	"peercall/internal/websocket"
	"peercall/pkg/logger"

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
	Call     *handler.CallHandler
	Presence *handler.PresenceHandler
	WS       *websocket.Handler
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

func (s *Server) SetupRoutes(handlers *Handlers, verifier *auth.Verifier, limiter *redis.RateLimiter, db *sql.DB) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/v1/ws", handlers.WS.Connect)

	authed := middleware.AuthMiddleware(verifier)
	calls := s.engine.Group("/v1/calls", authed)
	{
		calls.POST("", middleware.CallRateLimitMiddleware(limiter), handlers.Call.Initiate)
		calls.GET("/ringing", handlers.Call.Ringing)
		calls.GET("/history", handlers.Call.History)
		calls.GET("/missed", handlers.Call.MissedCalls)
		calls.GET("/:id", handlers.Call.State)
		calls.POST("/:id/accept", handlers.Call.Accept)
		calls.POST("/:id/reject", handlers.Call.Reject)
		calls.POST("/:id/end", handlers.Call.End)
		calls.POST("/:id/audio/toggle", handlers.Call.ToggleAudio)
		calls.POST("/:id/video/toggle", handlers.Call.ToggleVideo)
		calls.POST("/:id/screen-share/start", handlers.Call.StartScreenShare)
		calls.POST("/:id/screen-share/stop", handlers.Call.StopScreenShare)
	}

	s.engine.GET("/v1/users/:id/presence", authed, handlers.Presence.Get)
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
