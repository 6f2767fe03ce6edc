package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clipcast/clipcast/internal/auth"
	"github.com/clipcast/clipcast/internal/platform/correlation"
	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
)

const contextKeyClaims = "claims"

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			if retryAfter, ok := apperrors.RetryAfter(structuredErr); ok {
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			}

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeSubscription:
		slog.Info("Validation error", attrs...)
	case apperrors.TypeAuthInvalid, apperrors.TypeAuthExpired, apperrors.TypeAuthRevoked, apperrors.TypeAuthMalformed:
		slog.Info("Auth rejection", attrs...)
	case apperrors.TypeForbidden:
		slog.Warn("Permission denied", attrs...)
	case apperrors.TypeRateLimit:
		slog.Info("Rate limited", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.Error("Internal error", attrs...)
	default:
		slog.Error("Unhandled error type", attrs...)
	}
}

// authMiddleware authenticates guarded routes. Accepted presentation
// formats, in precedence order: bearer token, legacy X-API-Key header
// (exchanged for a token on the fly), and a token query parameter kept for
// compatibility with clients that cannot set headers.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, fromQuery := extractToken(c)

			if token == "" {
				if apiKey := c.Request().Header.Get("X-API-Key"); apiKey != "" {
					_, claims, err := s.auth.IssueFromAPIKey(apiKey, c.RealIP())
					if err != nil {
						return err
					}
					c.Set(contextKeyClaims, claims)
					return next(c)
				}
				return apperrors.AuthInvalidError("missing credentials")
			}

			if fromQuery {
				slog.Warn("Token presented via query parameter",
					"path", c.Request().URL.Path,
					"remote_addr", c.RealIP(),
				)
			}

			claims, err := s.auth.Verify(token)
			if err != nil {
				return err
			}
			c.Set(contextKeyClaims, claims)
			return next(c)
		}
	}
}

func extractToken(c echo.Context) (token string, fromQuery bool) {
	header := c.Request().Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok && after != "" {
		return after, false
	}
	if qt := c.QueryParam("token"); qt != "" {
		return qt, true
	}
	return "", false
}

func claimsFromContext(c echo.Context) *auth.Claims {
	claims, _ := c.Get(contextKeyClaims).(*auth.Claims)
	return claims
}
