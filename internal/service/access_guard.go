package service

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

const (
	loginPath     = "/auth/login"
	homePath      = "/"
	adminHomePath = "/admin"
)

// SessionValidator resolves an access token into session claims.
type SessionValidator interface {
	ValidateToken(token string) (*models.SessionClaims, error)
}

type identityFinder interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
}

// AccessGuard decides whether a caller may enter the admin area. The
// identity is reloaded on every check so privilege changes apply on the very
// next request.
type AccessGuard struct {
	sessions   SessionValidator
	identities identityFinder
	policy     PrivilegePolicy
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewAccessGuard constructs an AccessGuard.
func NewAccessGuard(sessions SessionValidator, identities identityFinder, policy PrivilegePolicy, metrics *MetricsService, logger *zap.Logger) *AccessGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = FlagPolicy{}
	}
	return &AccessGuard{sessions: sessions, identities: identities, policy: policy, metrics: metrics, logger: logger}
}

// Policy returns the active privilege policy.
func (g *AccessGuard) Policy() PrivilegePolicy {
	return g.policy
}

// Check evaluates an admin-area request. The returned decision is never nil;
// on DENY it carries the redirect target and the error carries the status.
func (g *AccessGuard) Check(ctx context.Context, token, requestedPath string) (*models.AccessDecision, *models.Principal, error) {
	login := &models.AccessDecision{Redirect: LoginRedirect(requestedPath), Policy: g.policy.Name()}

	token = strings.TrimSpace(token)
	if token == "" {
		return g.deny(login, appErrors.ErrUnauthorized)
	}
	claims, err := g.sessions.ValidateToken(token)
	if err != nil {
		return g.deny(login, appErrors.Clone(appErrors.ErrUnauthorized, "session is invalid or expired"))
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return g.deny(login, appErrors.ErrIdentityNotFound)
	}
	identity, err := g.identities.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g.deny(login, appErrors.ErrIdentityNotFound)
		}
		g.logger.Error("access guard identity lookup failed", zap.String("identity_id", claims.Subject), zap.Error(err))
		return g.deny(&models.AccessDecision{Policy: g.policy.Name()}, appErrors.Upstream(err, "failed to resolve identity"))
	}

	if !g.policy.IsAdmin(identity) {
		g.logger.Info("admin access denied", zap.String("identity_id", identity.ID), zap.String("policy", g.policy.Name()))
		return g.deny(&models.AccessDecision{Redirect: homePath, Policy: g.policy.Name()}, appErrors.ErrForbidden)
	}

	g.metrics.ObserveAccessDecision("allow")
	principal := &models.Principal{
		ID:          identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName(),
		IsAdmin:     true,
	}
	return &models.AccessDecision{
		Allowed:     true,
		DisplayName: principal.DisplayName,
		Email:       principal.Email,
		Policy:      g.policy.Name(),
	}, principal, nil
}

func (g *AccessGuard) deny(decision *models.AccessDecision, err *appErrors.Error) (*models.AccessDecision, *models.Principal, error) {
	g.metrics.ObserveAccessDecision(err.Code)
	return decision, nil, err
}

// LoginRedirect builds the login URL resuming at requestedPath. Only local
// paths are carried over.
func LoginRedirect(requestedPath string) string {
	if !strings.HasPrefix(requestedPath, "/") || strings.HasPrefix(requestedPath, "//") {
		requestedPath = adminHomePath
	}
	return loginPath + "?next=" + url.QueryEscape(requestedPath)
}
