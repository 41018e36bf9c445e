package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "feste-api-test",
	}
}

func newAuthFixture(t *testing.T) (*AuthService, *fakeIdentityStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	store := newFakeIdentityStore(&models.Identity{
		ID:           "44444444-4444-4444-4444-444444444444",
		Email:        "mario@example.com",
		PasswordHash: string(hash),
		AppMetadata:  models.Attributes{models.AttrIsSuperAdmin: true},
		UserMetadata: models.Attributes{models.AttrNome: "Mario", models.AttrCognome: "Bianchi"},
	})
	return NewAuthService(store, nil, nil, testAuthConfig()), store
}

func TestLoginIssuesTokensWithoutPrivilege(t *testing.T) {
	svc, store := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "mario@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, "Mario Bianchi", resp.User.DisplayName)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "44444444-4444-4444-4444-444444444444", claims.Subject)
	assert.Equal(t, "mario@example.com", claims.Email)

	stored, err := store.FindRefreshToken(context.Background(), hashToken(resp.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, resp.RefreshToken, stored.TokenHash)
	require.Len(t, store.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, store.auditLogs[0].Action)
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "mario@example.com", Password: "wrong-password"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestRegisterCreatesUnprivilegedIdentity(t *testing.T) {
	svc, store := newAuthFixture(t)

	resp, err := svc.Register(context.Background(), models.RegisterRequest{
		Email: " Luigi@Example.com ", Password: "password123", Nome: "Luigi", Cognome: "Verdi",
	})
	require.NoError(t, err)
	assert.Equal(t, "luigi@example.com", resp.User.Email)
	assert.False(t, resp.User.ApprovedForParty)

	created := store.get(resp.User.ID)
	require.NotNil(t, created)
	assert.False(t, created.IsSuperAdmin())
	assert.Equal(t, "Luigi", created.UserMetadata[models.AttrNome])

	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Email: "luigi@example.com", Password: "password123", Nome: "L", Cognome: "V",
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "x@example.com", Password: "short", Nome: "X", Cognome: "Y"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestRefreshTokenRotates(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	login, err := svc.Login(ctx, models.LoginRequest{Email: "mario@example.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: "unknown"})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestRefreshTokenExpired(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	login, err := svc.Login(ctx, models.LoginRequest{Email: "mario@example.com", Password: "password123"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestLogoutRevokesOwnTokenOnly(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	login, err := svc.Login(ctx, models.LoginRequest{Email: "mario@example.com", Password: "password123"})
	require.NoError(t, err)

	err = svc.Logout(ctx, "someone-else", models.LogoutRequest{RefreshToken: login.RefreshToken})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Logout(ctx, login.User.ID, models.LogoutRequest{RefreshToken: login.RefreshToken}))
	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	svc, _ := newAuthFixture(t)

	claims := &models.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "44444444-4444-4444-4444-444444444444",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	claims.Issuer = "feste-api-test"
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	claims.ExpiresAt = nil
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(noExpiry)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestMeReturnsProfile(t *testing.T) {
	svc, _ := newAuthFixture(t)

	info, err := svc.Me(context.Background(), "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	assert.Equal(t, "Mario Bianchi", info.DisplayName)

	_, err = svc.Me(context.Background(), "55555555-5555-5555-5555-555555555555")
	assert.True(t, errors.Is(err, appErrors.ErrIdentityNotFound))
}
