package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clipcast/clipcast/internal/platform/errors"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

const (
	testAPIKey        = "test-api-key-value"
	testSigningSecret = "0123456789abcdef0123456789abcdef"
)

func testService(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	limiter := ratelimit.NewLimiter(clock,
		ratelimit.Tier{Name: ratelimit.TierToken, Max: 3, Window: time.Hour},
	)
	svc := NewService(Config{
		APIKey:          testAPIKey,
		SigningSecret:   testSigningSecret,
		TokenExpiry:     time.Hour,
		RefreshWindow:   30 * time.Minute,
		TokenRateMax:    3,
		TokenRateWindow: time.Hour,
	}, limiter, clock)
	return svc, clock
}

func TestIssueFromAPIKey(t *testing.T) {
	svc, _ := testService(t)

	token, claims, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	sum := sha256.Sum256([]byte(testAPIKey))
	assert.Equal(t, hex.EncodeToString(sum[:]), claims.Subject)
	assert.Equal(t, TokenTypeAPIKey, claims.TokenType)
	assert.Equal(t, DefaultPermissions, claims.Permissions)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueFromAPIKey_InvalidKey(t *testing.T) {
	svc, _ := testService(t)

	_, _, err := svc.IssueFromAPIKey("wrong-key", "client-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthInvalid))
}

func TestIssueFromAPIKey_RateLimited(t *testing.T) {
	svc, _ := testService(t)

	// The window counts failed attempts too, so key guessing exhausts it.
	for i := 0; i < 3; i++ {
		_, _, err := svc.IssueFromAPIKey("wrong-key", "client-1")
		assert.True(t, apperrors.IsType(err, apperrors.TypeAuthInvalid))
	}

	_, _, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeRateLimit))
	retryAfter, ok := apperrors.RetryAfter(err)
	assert.True(t, ok)
	assert.Greater(t, retryAfter, 0)

	// Other callers are unaffected
	_, _, err = svc.IssueFromAPIKey(testAPIKey, "client-2")
	assert.NoError(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	svc, _ := testService(t)

	token, issued, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, issued.Subject, claims.Subject)
	assert.Equal(t, issued.ID, claims.ID)
	assert.Equal(t, issued.Permissions, claims.Permissions)
}

func TestVerify_Expired(t *testing.T) {
	svc, clock := testService(t)

	token, _, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthExpired))
}

func TestVerify_Revoked(t *testing.T) {
	svc, _ := testService(t)

	token, claims, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	svc.Revoke(claims.ID)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthRevoked),
		"revoked must be distinguishable from invalid")
}

func TestVerify_Malformed(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Verify("not-a-token")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthMalformed))
}

func TestVerify_WrongSignature(t *testing.T) {
	svc, clock := testService(t)

	other := NewService(Config{
		APIKey:        testAPIKey,
		SigningSecret: "another-secret-entirely-32-bytes",
		TokenExpiry:   time.Hour,
		RefreshWindow: 30 * time.Minute,
	}, ratelimit.NewLimiter(clock, ratelimit.Tier{Name: ratelimit.TierToken, Max: 10, Window: time.Hour}), clock)

	token, _, err := other.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthInvalid))
}

func TestRefresh_TooEarly(t *testing.T) {
	svc, clock := testService(t)

	token, _, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	// 45 minutes remaining, refresh window is 30: not yet eligible
	clock.Advance(15 * time.Minute)
	_, _, err = svc.Refresh(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))
}

func TestRefresh_NearExpiry(t *testing.T) {
	svc, clock := testService(t)

	token, issued, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)

	fresh, claims, err := svc.Refresh(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)
	assert.Equal(t, issued.Subject, claims.Subject)
	assert.Equal(t, issued.Permissions, claims.Permissions)
	assert.NotEqual(t, issued.ID, claims.ID, "refresh must mint a fresh jti")
	assert.WithinDuration(t, clock.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Second)

	_, err = svc.Verify(fresh)
	assert.NoError(t, err)
}

func TestRefresh_RevokedToken(t *testing.T) {
	svc, clock := testService(t)

	token, claims, err := svc.IssueFromAPIKey(testAPIKey, "client-1")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	svc.Revoke(claims.ID)

	_, _, err = svc.Refresh(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthRevoked))
}

func TestHasPermission(t *testing.T) {
	svc, _ := testService(t)

	claims := &Claims{Permissions: []string{"jobs:read"}}
	assert.True(t, svc.HasPermission(claims, "jobs:read"))
	assert.False(t, svc.HasPermission(claims, "jobs:submit"))

	wildcard := &Claims{Permissions: []string{PermWildcard}}
	assert.True(t, svc.HasPermission(wildcard, "anything:at-all"))

	assert.False(t, svc.HasPermission(nil, "jobs:read"))
}

func TestBlacklist_PruneAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bl := NewBlacklist(clock)

	bl.Add("jti-1", clock.Now().Add(time.Hour))
	bl.Add("jti-2", clock.Now().Add(2*time.Hour))
	require.True(t, bl.Contains("jti-1"))

	// Expired entries read as absent even before pruning
	clock.Advance(90 * time.Minute)
	assert.False(t, bl.Contains("jti-1"))
	assert.True(t, bl.Contains("jti-2"))
	assert.Equal(t, 2, bl.Len())

	bl.Prune()
	assert.Equal(t, 1, bl.Len())
	assert.True(t, bl.Contains("jti-2"))
}
