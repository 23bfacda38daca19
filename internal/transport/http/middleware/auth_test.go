package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/internal/transport/http/middleware"
)

type mockAuthenticator struct {
	calls            int
	authenticateFunc func(ctx context.Context, credential string) (*session.AuthenticatedUser, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, credential string) (*session.AuthenticatedUser, error) {
	m.calls++
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, credential)
	}
	return &session.AuthenticatedUser{UID: "u1", Email: "u1@example.com", Role: session.DefaultRole}, nil
}

type mockAccessChecker struct {
	calls     int
	checkFunc func(ctx context.Context, userID string, app access.AppName) (access.AccessData, error)
}

func (m *mockAccessChecker) CheckAccess(ctx context.Context, userID string, app access.AppName) (access.AccessData, error) {
	m.calls++
	if m.checkFunc != nil {
		return m.checkFunc(ctx, userID, app)
	}
	return access.NoAccess(), nil
}

func grantedAs(role string) func(context.Context, string, access.AppName) (access.AccessData, error) {
	return func(context.Context, string, access.AppName) (access.AccessData, error) {
		return access.AccessData{HasAccess: true, Role: role, IsActive: true}, nil
	}
}

func serve(t *testing.T, h gin.HandlerFunc, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/guarded", h)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: cookie})
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWithAuth_MissingCookieNeverVerifies(t *testing.T) {
	sessions := &mockAuthenticator{}
	authz := middleware.NewAuthorizer(sessions, &mockAccessChecker{}, "")

	invoked := false
	w := serve(t, authz.WithAuth(func(c *gin.Context, _ *session.AuthenticatedUser) {
		invoked = true
	}), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, w.Body.String())
	assert.Zero(t, sessions.calls)
	assert.False(t, invoked)
}

func TestWithAuth_InvalidSession(t *testing.T) {
	sessions := &mockAuthenticator{
		authenticateFunc: func(context.Context, string) (*session.AuthenticatedUser, error) {
			return nil, session.ErrUnauthenticated
		},
	}
	authz := middleware.NewAuthorizer(sessions, &mockAccessChecker{}, "")

	w := serve(t, authz.WithAuth(func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "expired-cookie")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired session"}`, w.Body.String())
	assert.Equal(t, 1, sessions.calls)
}

func TestWithAuth_PassesUser(t *testing.T) {
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, &mockAccessChecker{}, "")

	w := serve(t, authz.WithAuth(func(c *gin.Context, user *session.AuthenticatedUser) {
		stored, ok := middleware.CurrentUser(c)
		require.True(t, ok)
		assert.Same(t, user, stored)
		c.JSON(http.StatusOK, gin.H{"uid": user.UID, "role": user.Role})
	}), "good-cookie")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uid":"u1","role":"viewer"}`, w.Body.String())
}

func TestWithRole_InsufficientRole(t *testing.T) {
	checker := &mockAccessChecker{checkFunc: grantedAs("editor")}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	invoked := false
	w := serve(t, authz.WithRole(access.AppEditorial, access.RoleAdmin, func(*gin.Context, *session.AuthenticatedUser) {
		invoked = true
	}), "good-cookie")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t,
		`{"error":"Insufficient permissions","currentRole":"editor","requiredRole":"admin"}`,
		w.Body.String(),
	)
	assert.False(t, invoked)
}

func TestWithRole_ResolvesRole(t *testing.T) {
	checker := &mockAccessChecker{checkFunc: grantedAs("admin")}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	w := serve(t, authz.WithRole(access.AppEditorial, access.RoleEditor, func(c *gin.Context, user *session.AuthenticatedUser) {
		c.JSON(http.StatusOK, gin.H{"role": user.Role})
	}), "good-cookie")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"admin"}`, w.Body.String())
}

func TestWithRole_NoAccess(t *testing.T) {
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, &mockAccessChecker{}, "")

	w := serve(t, authz.WithRole(access.AppAcademy, access.RoleStudent, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "good-cookie")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"No access to academy app"}`, w.Body.String())
}

func TestWithRole_NoRoleAssigned(t *testing.T) {
	checker := &mockAccessChecker{checkFunc: grantedAs("")}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	w := serve(t, authz.WithRole(access.AppAgency, access.RoleClient, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "good-cookie")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"No role assigned"}`, w.Body.String())
}

func TestWithRole_UnknownStoredRoleIsDenied(t *testing.T) {
	checker := &mockAccessChecker{checkFunc: grantedAs("superuser")}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	w := serve(t, authz.WithRole(access.AppHub, access.RoleUser, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "good-cookie")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t,
		`{"error":"Insufficient permissions","currentRole":"superuser","requiredRole":"user"}`,
		w.Body.String(),
	)
}

func TestWithRole_UnauthenticatedSkipsAccessCheck(t *testing.T) {
	checker := &mockAccessChecker{}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	w := serve(t, authz.WithRole(access.AppHub, access.RoleAdmin, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, checker.calls)
}

func TestWithRole_CheckErrorIsInternal(t *testing.T) {
	checker := &mockAccessChecker{
		checkFunc: func(context.Context, string, access.AppName) (access.AccessData, error) {
			return access.NoAccess(), errors.New("boom")
		},
	}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	w := serve(t, authz.WithRole(access.AppHub, access.RoleUser, func(c *gin.Context, _ *session.AuthenticatedUser) {
		c.Status(http.StatusOK)
	}), "good-cookie")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}

func TestWithRole_PanicsOnBadGuard(t *testing.T) {
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, &mockAccessChecker{}, "")
	noop := func(*gin.Context, *session.AuthenticatedUser) {}

	assert.Panics(t, func() { authz.WithRole(access.AppName("billing"), access.RoleAdmin, noop) })
	assert.Panics(t, func() { authz.WithRole(access.AppHub, access.RoleUnknown, noop) })
}

func TestRequireRole_Chains(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := &mockAccessChecker{checkFunc: grantedAs("editor")}
	authz := middleware.NewAuthorizer(&mockAuthenticator{}, checker, "")

	router := gin.New()
	router.GET("/chained", authz.RequireRole(access.AppEditorial, access.RoleViewer), func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		require.True(t, ok)
		c.String(http.StatusOK, user.Role)
	})

	req := httptest.NewRequest(http.MethodGet, "/chained", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "good-cookie"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "editor", w.Body.String())
}

func TestRecovery_ReturnsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.GET("/panic", func(*gin.Context) { panic("handler bug") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}
