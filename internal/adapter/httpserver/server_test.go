package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipcast/clipcast/internal/auth"
	"github.com/clipcast/clipcast/internal/platform/config"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

const (
	testAPIKey        = "test-api-key-value"
	testSigningSecret = "0123456789abcdef0123456789abcdef"
)

type serverHarness struct {
	server *Server
	clock  *clockwork.FakeClock
	wsHits *int
}

func newServerHarness(t *testing.T, authRateMax int) *serverHarness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := &config.Config{
		Port:               "0",
		AuthAPIKey:         testAPIKey,
		AuthSigningSecret:  testSigningSecret,
		TokenExpiry:        time.Hour,
		TokenRefreshWindow: 30 * time.Minute,
	}
	limiter := ratelimit.NewLimiter(clock,
		ratelimit.Tier{Name: ratelimit.TierGeneral, Max: 100, Window: time.Minute},
		ratelimit.Tier{Name: ratelimit.TierAuth, Max: authRateMax, Window: time.Minute},
		ratelimit.Tier{Name: ratelimit.TierHeavy, Max: 100, Window: time.Minute},
		ratelimit.Tier{Name: ratelimit.TierToken, Max: 100, Window: time.Hour},
	)
	authSvc := auth.NewService(auth.Config{
		APIKey:        testAPIKey,
		SigningSecret: testSigningSecret,
		TokenExpiry:   time.Hour,
		RefreshWindow: 30 * time.Minute,
	}, limiter, clock)

	wsHits := 0
	wsStub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsHits++
		w.WriteHeader(http.StatusNoContent)
	})

	return &serverHarness{
		server: NewServer(cfg, authSvc, limiter, wsStub),
		clock:  clock,
		wsHits: &wsHits,
	}
}

func (sh *serverHarness) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	sh.server.echo.ServeHTTP(rec, req)
	return rec
}

func (sh *serverHarness) issueToken(t *testing.T) tokenResponse {
	t.Helper()
	rec := sh.do(http.MethodPost, "/auth/token", `{"apiKey":"`+testAPIKey+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestHealthEndpoint(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestTokenIssuance(t *testing.T) {
	sh := newServerHarness(t, 50)

	resp := sh.issueToken(t)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotZero(t, resp.ExpiresAt)
	assert.NotEmpty(t, resp.Subject)
	assert.Equal(t, auth.DefaultPermissions, resp.Perms)
}

func TestTokenIssuance_HeaderKey(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodPost, "/auth/token", "", http.Header{"X-API-Key": []string{testAPIKey}})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTokenIssuance_InvalidKey(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodPost, "/auth/token", `{"apiKey":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_invalid")
}

func TestTokenIssuance_MissingKey(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodPost, "/auth/token", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "apiKey is required")
}

func TestRefreshFlow(t *testing.T) {
	sh := newServerHarness(t, 50)
	issued := sh.issueToken(t)

	// Too early: most of the lifetime remains
	rec := sh.do(http.MethodPost, "/auth/refresh", `{"token":"`+issued.Token+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not yet eligible")

	sh.clock.Advance(45 * time.Minute)

	rec = sh.do(http.MethodPost, "/auth/refresh", `{"token":"`+issued.Token+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEqual(t, issued.Token, refreshed.Token)
	assert.Equal(t, issued.Subject, refreshed.Subject)
}

func TestRefresh_FromAuthorizationHeader(t *testing.T) {
	sh := newServerHarness(t, 50)
	issued := sh.issueToken(t)
	sh.clock.Advance(45 * time.Minute)

	rec := sh.do(http.MethodPost, "/auth/refresh", "", bearer(issued.Token))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRevokeOwnToken(t *testing.T) {
	sh := newServerHarness(t, 50)
	issued := sh.issueToken(t)

	rec := sh.do(http.MethodPost, "/auth/revoke", "", bearer(issued.Token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "revoked")

	// The revoked token no longer authenticates
	rec = sh.do(http.MethodPost, "/auth/revoke", "", bearer(issued.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_revoked")
}

func TestRevokeOtherTokenRequiresPermission(t *testing.T) {
	sh := newServerHarness(t, 50)
	issued := sh.issueToken(t)

	rec := sh.do(http.MethodPost, "/auth/revoke", `{"jti":"someone-elses-token"}`, bearer(issued.Token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin:revoke")
}

func TestRevoke_RequiresAuthentication(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodPost, "/auth/revoke", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebSocketRouteAuthGate(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, *sh.wsHits)

	issued := sh.issueToken(t)

	rec = sh.do(http.MethodGet, "/ws", "", bearer(issued.Token))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, *sh.wsHits)

	// Query-parameter fallback for clients that cannot set headers
	rec = sh.do(http.MethodGet, "/ws?token="+issued.Token, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, *sh.wsHits)
}

func TestWebSocketRoute_ExpiredToken(t *testing.T) {
	sh := newServerHarness(t, 50)
	issued := sh.issueToken(t)

	sh.clock.Advance(2 * time.Hour)

	rec := sh.do(http.MethodGet, "/ws", "", bearer(issued.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_expired")
}

func TestAuthTierRateLimit(t *testing.T) {
	sh := newServerHarness(t, 2)

	for i := 0; i < 2; i++ {
		rec := sh.do(http.MethodPost, "/auth/token", `{"apiKey":"`+testAPIKey+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := sh.do(http.MethodPost, "/auth/token", `{"apiKey":"`+testAPIKey+`"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The window resets after its duration
	sh.clock.Advance(61 * time.Second)
	rec = sh.do(http.MethodPost, "/auth/token", `{"apiKey":"`+testAPIKey+`"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestXAPIKeyExchangeOnGuardedRoute(t *testing.T) {
	sh := newServerHarness(t, 50)

	rec := sh.do(http.MethodGet, "/ws", "", http.Header{"X-API-Key": []string{testAPIKey}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = sh.do(http.MethodGet, "/ws", "", http.Header{"X-API-Key": []string{"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobsGroupExposed(t *testing.T) {
	sh := newServerHarness(t, 50)
	require.NotNil(t, sh.server.JobsGroup())

	sh.server.JobsGroup().POST("/submit", func(c echo.Context) error {
		return c.JSON(http.StatusAccepted, map[string]string{"jobId": "job-1"})
	})

	// The group carries the auth guard
	rec := sh.do(http.MethodPost, "/jobs/submit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	issued := sh.issueToken(t)
	rec = sh.do(http.MethodPost, "/jobs/submit", "", bearer(issued.Token))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
