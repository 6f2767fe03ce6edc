package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

// newTierRateLimiter throttles a route group through one tier of the shared
// fixed-window limiter, keyed by client IP. The deny handler re-checks the
// window to recover the reset deadline; the extra count is harmless since
// rejected requests mutate the window anyway.
func (s *Server) newTierRateLimiter(tier string) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: ratelimit.NewTierStore(s.limiter, tier),
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			res := s.limiter.CheckLimit(tier, identifier)
			return apperrors.RateLimitError(tier, s.limiter.RetryAfterSeconds(res))
		},
	})
}
