// Package middleware guards gin routes with session authentication and
// per-application role checks.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/internal/metrics"
	"github.com/cenie/accessd/pkg/logger"
)

const (
	DefaultCookieName = "session"

	userContextKey = "accessd.user"
)

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*session.AuthenticatedUser, error)
}

type AccessChecker interface {
	CheckAccess(ctx context.Context, userID string, app access.AppName) (access.AccessData, error)
}

// AuthenticatedHandler receives the caller resolved by WithAuth or WithRole.
type AuthenticatedHandler func(c *gin.Context, user *session.AuthenticatedUser)

type Authorizer struct {
	sessions   Authenticator
	access     AccessChecker
	cookieName string
}

func NewAuthorizer(sessions Authenticator, accessChecker AccessChecker, cookieName string) *Authorizer {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authorizer{
		sessions:   sessions,
		access:     accessChecker,
		cookieName: cookieName,
	}
}

// WithAuth runs h only for requests carrying a valid session cookie.
func (a *Authorizer) WithAuth(h AuthenticatedHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := a.authenticate(c)
		if !ok {
			return
		}
		logger.DebugContext(c.Request.Context(), "User authenticated",
			slog.String("uid", user.UID),
			slog.String("path", c.Request.URL.Path),
		)
		metrics.AuthorizationDecisions.WithLabelValues("authenticated").Inc()
		c.Set(userContextKey, user)
		h(c, user)
	}
}

// WithRole runs h only when the caller holds at least minRole in app. The
// user passed to h carries the role resolved for app. It panics when app or
// minRole is not a known value, since that is a routing mistake.
func (a *Authorizer) WithRole(app access.AppName, minRole access.Role, h AuthenticatedHandler) gin.HandlerFunc {
	mustGuard(app, minRole)

	return func(c *gin.Context) {
		user, ok := a.authorize(c, app, minRole)
		if !ok {
			return
		}
		c.Set(userContextKey, user)
		h(c, user)
	}
}

// RequireAuth is the chainable form of WithAuth; handlers read the caller
// with CurrentUser.
func (a *Authorizer) RequireAuth() gin.HandlerFunc {
	return a.WithAuth(func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Next()
	})
}

// RequireRole is the chainable form of WithRole.
func (a *Authorizer) RequireRole(app access.AppName, minRole access.Role) gin.HandlerFunc {
	return a.WithRole(app, minRole, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Next()
	})
}

// CurrentUser returns the caller stored by the auth middleware.
func CurrentUser(c *gin.Context) (*session.AuthenticatedUser, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*session.AuthenticatedUser)
	return user, ok
}

func (a *Authorizer) authenticate(c *gin.Context) (*session.AuthenticatedUser, bool) {
	ctx := c.Request.Context()

	credential, err := c.Cookie(a.cookieName)
	if err != nil || credential == "" {
		logger.WarnContext(ctx, "Authentication required - no session cookie",
			slog.String("path", c.Request.URL.Path),
		)
		deny(c, http.StatusUnauthorized, "unauthenticated", gin.H{"error": "Authentication required"})
		return nil, false
	}

	user, err := a.sessions.Authenticate(ctx, credential)
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		logger.WarnContext(ctx, "Invalid or expired session",
			slog.String("path", c.Request.URL.Path),
		)
		deny(c, http.StatusUnauthorized, "unauthenticated", gin.H{"error": "Invalid or expired session"})
		return nil, false
	case err != nil:
		internalError(c, "session authentication failed", err)
		return nil, false
	}
	return user, true
}

func (a *Authorizer) authorize(
	c *gin.Context,
	app access.AppName,
	minRole access.Role,
) (*session.AuthenticatedUser, bool) {
	user, ok := a.authenticate(c)
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()

	data, err := a.access.CheckAccess(ctx, user.UID, app)
	if err != nil {
		internalError(c, "access check failed", err)
		return nil, false
	}

	if !data.HasAccess {
		logger.WarnContext(ctx, "User has no access to app",
			slog.String("uid", user.UID),
			slog.String("app", string(app)),
		)
		deny(c, http.StatusForbidden, "no_access", gin.H{"error": fmt.Sprintf("No access to %s app", app)})
		return nil, false
	}

	if data.Role == "" {
		logger.WarnContext(ctx, "User has no role assigned",
			slog.String("uid", user.UID),
			slog.String("app", string(app)),
		)
		deny(c, http.StatusForbidden, "no_role", gin.H{"error": "No role assigned"})
		return nil, false
	}

	if !access.ParseRole(data.Role).Satisfies(minRole) {
		logger.WarnContext(ctx, "Insufficient permissions",
			slog.String("uid", user.UID),
			slog.String("app", string(app)),
			slog.String("current_role", data.Role),
			slog.String("required_role", minRole.String()),
			slog.Int("current_level", access.RoleLevel(data.Role)),
			slog.Int("required_level", minRole.Level()),
		)
		deny(c, http.StatusForbidden, "insufficient_role", gin.H{
			"error":        "Insufficient permissions",
			"currentRole":  data.Role,
			"requiredRole": minRole.String(),
		})
		return nil, false
	}

	logger.DebugContext(ctx, "User authorized with role",
		slog.String("uid", user.UID),
		slog.String("app", string(app)),
		slog.String("role", data.Role),
	)
	metrics.AuthorizationDecisions.WithLabelValues("authorized").Inc()
	return user.WithRole(data.Role), true
}

func mustGuard(app access.AppName, minRole access.Role) {
	if !app.Valid() {
		panic(fmt.Sprintf("middleware: unknown application %q", app))
	}
	if minRole == access.RoleUnknown {
		panic(fmt.Sprintf("middleware: no known minimum role for %s", app))
	}
}

func deny(c *gin.Context, status int, outcome string, body gin.H) {
	metrics.AuthorizationDecisions.WithLabelValues(outcome).Inc()
	c.AbortWithStatusJSON(status, body)
}

func internalError(c *gin.Context, msg string, err error) {
	logger.ErrorContext(c.Request.Context(), msg, slog.String("error", err.Error()))
	deny(c, http.StatusInternalServerError, "error", gin.H{"error": "Internal server error"})
}
