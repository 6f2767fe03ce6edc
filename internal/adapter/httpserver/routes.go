package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipcast/clipcast/internal/ratelimit"
	"github.com/clipcast/clipcast/internal/version"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	generalLimit := s.newTierRateLimiter(ratelimit.TierGeneral)
	authLimit := s.newTierRateLimiter(ratelimit.TierAuth)
	heavyLimit := s.newTierRateLimiter(ratelimit.TierHeavy)

	authGroup := s.echo.Group("/auth", authLimit)
	authGroup.POST("/token", s.handleToken)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/revoke", s.handleRevoke, s.authMiddleware())

	s.echo.GET("/ws", echo.WrapHandler(s.websocketHandler), generalLimit, s.authMiddleware())

	// Resource-intensive pipeline actions mount under /jobs; the external
	// pipeline registers its own handlers on this group.
	s.jobsGroup = s.echo.Group("/jobs", heavyLimit, s.authMiddleware())
}

// JobsGroup exposes the rate-limited, token-guarded group the external job
// pipeline mounts its submission handlers on.
func (s *Server) JobsGroup() *echo.Group {
	return s.jobsGroup
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        version.Get().Version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}
