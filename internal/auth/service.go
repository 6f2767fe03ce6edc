// Package auth exchanges the static API key for short-lived signed tokens
// and verifies, refreshes, and revokes them.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/metrics"
	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

const (
	issuer   = "clipcast"
	audience = "clipcast-realtime"

	// TokenTypeAPIKey marks tokens minted from the shared API key.
	TokenTypeAPIKey = "api_key"

	// PermWildcard grants every permission.
	PermWildcard = "*"
)

// DefaultPermissions is the permission set granted to API-key-derived tokens.
var DefaultPermissions = []string{"jobs:submit", "jobs:read", "stats:read"}

// Claims is the JWT payload carried by issued tokens.
type Claims struct {
	TokenType   string   `json:"typ"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// Config holds the service's secrets and lifetimes. SigningSecret must be a
// dedicated key, never the API key itself; config validation enforces this
// before the service is built.
type Config struct {
	APIKey          string
	SigningSecret   string
	TokenExpiry     time.Duration
	RefreshWindow   time.Duration
	TokenRateMax    int
	TokenRateWindow time.Duration
}

// Service issues, verifies, refreshes, and revokes tokens.
type Service struct {
	cfg       Config
	clock     clockwork.Clock
	limiter   *ratelimit.Limiter
	blacklist *Blacklist
	keyHash   string
}

// NewService creates the auth service. The limiter must carry the token tier;
// callers typically share the process-wide limiter so the token window shows
// up in the same sweep and metrics as the HTTP tiers.
func NewService(cfg Config, limiter *ratelimit.Limiter, clock clockwork.Clock) *Service {
	sum := sha256.Sum256([]byte(cfg.APIKey))
	return &Service{
		cfg:       cfg,
		clock:     clock,
		limiter:   limiter,
		blacklist: NewBlacklist(clock),
		keyHash:   hex.EncodeToString(sum[:]),
	}
}

// Blacklist exposes the revocation set, mainly so main can run its prune loop.
func (s *Service) Blacklist() *Blacklist {
	return s.blacklist
}

// IssueFromAPIKey exchanges the shared secret for a signed token. The
// caller's identifier is throttled through the dedicated token tier before
// the key is even compared, so key-guessing burns the window too.
func (s *Service) IssueFromAPIKey(apiKey, callerID string) (string, *Claims, error) {
	res := s.limiter.CheckLimit(ratelimit.TierToken, callerID)
	if !res.Allowed {
		return "", nil, apperrors.RateLimitError(res.Tier, s.limiter.RetryAfterSeconds(res))
	}

	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.cfg.APIKey)) != 1 {
		return "", nil, apperrors.AuthInvalidError("invalid API key")
	}

	token, claims, err := s.sign(s.keyHash, TokenTypeAPIKey, DefaultPermissions)
	if err != nil {
		return "", nil, err
	}

	metrics.AuthTokensIssued.WithLabelValues("api_key").Inc()
	slog.Info("Token issued", "subject", claims.Subject, "jti", claims.ID, "caller", callerID)
	return token, claims, nil
}

// Verify checks signature, issuer, audience, expiry, structural completeness,
// and blacklist membership. It distinguishes expired, revoked, malformed, and
// otherwise invalid tokens so callers can branch (expired triggers refresh,
// revoked forces re-authentication). Verification never mutates state.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return []byte(s.cfg.SigningSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, s.classifyParseError(err)
	}

	if claims.Subject == "" || claims.TokenType == "" || claims.Permissions == nil || claims.ID == "" {
		metrics.AuthVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.AuthInvalidError("token missing required claims")
	}

	if s.blacklist.Contains(claims.ID) {
		metrics.AuthVerificationsTotal.WithLabelValues("revoked").Inc()
		return nil, apperrors.AuthRevokedError("token has been revoked")
	}

	metrics.AuthVerificationsTotal.WithLabelValues("ok").Inc()
	return claims, nil
}

func (s *Service) classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		metrics.AuthVerificationsTotal.WithLabelValues("expired").Inc()
		return apperrors.AuthExpiredError("token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		metrics.AuthVerificationsTotal.WithLabelValues("malformed").Inc()
		return apperrors.AuthMalformedError("token is malformed")
	default:
		metrics.AuthVerificationsTotal.WithLabelValues("invalid").Inc()
		e := apperrors.AuthInvalidError("token is invalid")
		e.Cause = err
		return e
	}
}

// HasPermission reports whether the claims carry perm literally or hold the
// wildcard.
func (s *Service) HasPermission(claims *Claims, perm string) bool {
	if claims == nil {
		return false
	}
	return slices.Contains(claims.Permissions, perm) ||
		slices.Contains(claims.Permissions, PermWildcard)
}

// Revoke blacklists the given jti for the maximum possible remaining token
// lifetime. After that the entry is pruned since no token carrying this jti
// can still be valid.
func (s *Service) Revoke(jti string) {
	s.blacklist.Add(jti, s.clock.Now().Add(s.cfg.TokenExpiry))
	slog.Info("Token revoked", "jti", jti)
}

// Refresh produces a new token preserving subject, permissions, and type,
// with a fresh jti and expiry. It is only permitted once the remaining
// lifetime drops below the refresh window; earlier calls are rejected to
// prevent unbounded renewal chains.
func (s *Service) Refresh(tokenString string) (string, *Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return "", nil, err
	}

	remaining := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if remaining >= s.cfg.RefreshWindow {
		return "", nil, apperrors.ValidationError("token not yet eligible for refresh").
			WithContext("remaining_seconds", int(remaining.Seconds())).
			WithContext("refresh_window_seconds", int(s.cfg.RefreshWindow.Seconds()))
	}

	token, newClaims, err := s.sign(claims.Subject, claims.TokenType, claims.Permissions)
	if err != nil {
		return "", nil, err
	}

	metrics.AuthTokensIssued.WithLabelValues("refresh").Inc()
	slog.Info("Token refreshed", "subject", newClaims.Subject, "old_jti", claims.ID, "new_jti", newClaims.ID)
	return token, newClaims, nil
}

func (s *Service) sign(subject, tokenType string, perms []string) (string, *Claims, error) {
	now := s.clock.Now()
	claims := &Claims{
		TokenType:   tokenType,
		Permissions: slices.Clone(perms),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenExpiry)),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SigningSecret))
	if err != nil {
		return "", nil, apperrors.InternalError("failed to sign token", err)
	}
	return token, claims, nil
}
