package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cenie/accessd/internal/config"
	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/transport/http/handler"
	"github.com/cenie/accessd/internal/transport/http/middleware"
)

// Handlers are the route targets NewRouter mounts.
type Handlers struct {
	Authorizer *middleware.Authorizer
	Session    *handler.SessionHandler
	Access     *handler.AccessHandler

	// RPC is mounted under RPCPath when non-nil.
	RPCPath string
	RPC     http.Handler
}

func NewRouter(cfg *config.Config, h Handlers) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	if cfg.Observability.TraceEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(middleware.Logging())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if cfg.Observability.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authz := h.Authorizer

	v1 := router.Group("/v1")
	v1.POST("/session", h.Session.Create)
	v1.DELETE("/session", h.Session.Delete)

	v1.GET("/me", authz.WithAuth(h.Access.Me))
	v1.GET("/me/apps", authz.WithAuth(h.Access.MyApps))
	v1.GET("/me/apps/:app/access", authz.WithAuth(h.Access.MyAppAccess))

	// Grant administration is a hub admin capability for every app.
	admin := v1.Group("/admin")
	admin.PUT("/apps/:app/users/:uid/access", authz.WithRole(access.AppHub, access.RoleAdmin, h.Access.Grant))
	admin.DELETE("/apps/:app/users/:uid/access", authz.WithRole(access.AppHub, access.RoleAdmin, h.Access.Revoke))
	admin.POST("/apps/:app/access/bulk", authz.WithRole(access.AppHub, access.RoleAdmin, h.Access.BulkGrant))
	admin.GET("/users/:uid/grants", authz.WithRole(access.AppHub, access.RoleAdmin, h.Access.UserGrants))

	if h.RPC != nil {
		router.Any(h.RPCPath+"*method", gin.WrapH(h.RPC))
	}

	return router
}
