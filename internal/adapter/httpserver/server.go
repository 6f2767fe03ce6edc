package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clipcast/clipcast/internal/auth"
	"github.com/clipcast/clipcast/internal/platform/config"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

// Server is the HTTP/WebSocket edge: token endpoints, the realtime
// handshake path, health, and metrics.
type Server struct {
	echo   *echo.Echo
	config *config.Config

	auth    *auth.Service
	limiter *ratelimit.Limiter

	websocketHandler http.Handler
	jobsGroup        *echo.Group

	startTime time.Time
}

func NewServer(cfg *config.Config, authSvc *auth.Service, limiter *ratelimit.Limiter, websocketHandler http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		auth:             authSvc,
		limiter:          limiter,
		websocketHandler: websocketHandler,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
