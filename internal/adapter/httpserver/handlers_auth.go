package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
)

type tokenRequest struct {
	APIKey string `json:"apiKey"`
}

type tokenResponse struct {
	Token     string   `json:"token"`
	TokenType string   `json:"tokenType"`
	ExpiresAt int64    `json:"expiresAt"`
	Subject   string   `json:"subject"`
	Perms     []string `json:"permissions"`
}

// handleToken exchanges an API key for a signed token. Invalid-key and
// rate-limited rejections surface as distinguishable structured errors.
func (s *Server) handleToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.APIKey == "" {
		req.APIKey = c.Request().Header.Get("X-API-Key")
	}
	if req.APIKey == "" {
		return apperrors.ValidationError("apiKey is required")
	}

	token, claims, err := s.auth.IssueFromAPIKey(req.APIKey, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.UnixMilli(),
		Subject:   claims.Subject,
		Perms:     claims.Permissions,
	})
}

type refreshRequest struct {
	Token string `json:"token"`
}

// handleRefresh exchanges a token nearing expiry for a fresh one. The token
// comes from the body or the Authorization header.
func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Token == "" {
		header := c.Request().Header.Get("Authorization")
		req.Token = strings.TrimPrefix(header, "Bearer ")
	}
	if req.Token == "" {
		return apperrors.ValidationError("token is required")
	}

	token, claims, err := s.auth.Refresh(req.Token)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.UnixMilli(),
		Subject:   claims.Subject,
		Perms:     claims.Permissions,
	})
}

type revokeRequest struct {
	JTI string `json:"jti"`
}

// handleRevoke blacklists a token id. Callers may always revoke their own
// token; revoking arbitrary ids requires the revoke permission.
func (s *Server) handleRevoke(c echo.Context) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return apperrors.AuthInvalidError("missing credentials")
	}

	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.JTI == "" {
		req.JTI = claims.ID
	}

	if req.JTI != claims.ID && !s.auth.HasPermission(claims, "admin:revoke") {
		return apperrors.ForbiddenError("revoking other tokens requires admin:revoke")
	}

	s.auth.Revoke(req.JTI)
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked", "jti": req.JTI})
}
