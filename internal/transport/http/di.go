package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"

	accessapp "github.com/cenie/accessd/internal/app/access"
	sessionapp "github.com/cenie/accessd/internal/app/session"
	"github.com/cenie/accessd/internal/config"
	accessdomain "github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/domain/claims"
	sessiondomain "github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/internal/infra/cache"
	"github.com/cenie/accessd/internal/infra/events"
	"github.com/cenie/accessd/internal/infra/identity"
	"github.com/cenie/accessd/internal/infra/store"
	"github.com/cenie/accessd/internal/transport/http/handler"
	"github.com/cenie/accessd/internal/transport/http/middleware"
	"github.com/cenie/accessd/internal/transport/rpc"
	httpclient "github.com/cenie/accessd/pkg/http"
	"github.com/cenie/accessd/pkg/logger"
	"github.com/cenie/accessd/pkg/otel"
	"github.com/cenie/accessd/pkg/tracer"
)

const (
	idleTimeoutMultiplier = 2
	serviceName           = "accessd"
)

// Server is the HTTP entry point plus the background services it depends
// on. The caller runs Background under its supervisor and calls Close once
// everything has stopped.
type Server struct {
	httpServer *http.Server
	background []suture.Service
	closers    []func() error
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.Format, cfg.Observability.LogSource)

	otelCfg := otel.DefaultConfig()
	otelCfg.ServiceName = serviceName
	otelCfg.EndpointURL = cfg.Observability.TracingEndpointURL
	otelCfg.Enabled = cfg.Observability.TraceEnabled
	otelCfg.SampleRatio = cfg.Observability.TraceSampleRatio
	if err := tracer.InitTracer(serviceName, otelCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s := &Server{}
	if err := s.build(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(cfg *config.Config) error {
	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Cache.Backend == "redis" {
		client, err := cache.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		redisClient = client
		s.closers = append(s.closers, client.Close)
	}

	var grantStore accessdomain.Store
	switch cfg.Store.Backend {
	case "badger":
		db, err := store.OpenBadger(cfg.Store.BadgerDir)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		grantStore = store.NewBadgerStore(db, cfg.Store.Collection)
	default:
		grantStore = store.NewRedisStore(redisClient, cfg.Store.Collection)
	}

	var accessCache cache.AccessCache
	switch cfg.Cache.Backend {
	case "redis":
		accessCache = cache.NewRedisCache(redisClient, cfg.Cache.TTL)
	default:
		memory := cache.NewMemory(
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithSweepInterval(cfg.Cache.SweepInterval),
		)
		accessCache = memory
		s.background = append(s.background, memory)
	}

	httpclient.Configure(cfg.Identity.Timeout, httpclient.DefaultRetry)
	identityClient := identity.NewClient(identity.Config{
		BaseURL:            cfg.Identity.BaseURL,
		APIKey:             cfg.Identity.APIKey,
		ProjectID:          cfg.Identity.ProjectID,
		KeysURL:            cfg.Identity.KeysURL,
		Issuer:             cfg.Identity.Issuer,
		Timeout:            cfg.Identity.Timeout,
		BreakerMaxFailures: cfg.Identity.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Identity.Breaker.OpenTimeout,
	})

	syncer := claims.NewSynchronizer(grantLister{grantStore}, identityClient, cfg.Claims.MaxBytes)

	var notifier accessdomain.ChangeNotifier
	if cfg.Events.Enabled {
		bus := events.NewBus(logger.Logger())
		s.closers = append(s.closers, bus.Close)
		notifier = events.NewPublisher(bus)
		s.background = append(s.background, events.NewConsumer(bus, syncHandler(syncer), cfg.Claims.SyncTimeout))
	} else {
		async := claims.NewAsyncNotifier(syncer, cfg.Claims.SyncTimeout)
		notifier = async
		s.closers = append(s.closers, func() error {
			async.Wait()
			return nil
		})
	}

	accessDomainService := accessdomain.NewService(grantStore, accessCache,
		accessdomain.WithNotifier(notifier),
		accessdomain.WithCacheTTL(cfg.Cache.TTL),
		accessdomain.WithStoreTimeout(cfg.Store.Timeout),
	)
	accessCommands := accessapp.NewCommandService(accessDomainService)
	accessQueries := accessapp.NewQueryService(accessDomainService)

	sessionDomainService := sessiondomain.NewService(identityClient,
		sessiondomain.WithRevocationCheck(cfg.Session.CheckRevoked),
	)
	sessionService := sessionapp.NewService(sessionDomainService)

	handlers := Handlers{
		Authorizer: middleware.NewAuthorizer(sessionService, accessQueries, cfg.Session.CookieName),
		Session: handler.NewSessionHandler(sessionService, handler.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.Secure,
			MaxAge: cfg.Session.MaxAge,
		}),
		Access: handler.NewAccessHandler(accessCommands, accessQueries),
	}
	if cfg.RPC.Enabled {
		handlers.RPCPath, handlers.RPC = rpc.NewHandler(accessQueries, cfg.RPC.ServiceToken)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      NewRouter(cfg, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * idleTimeoutMultiplier,
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Background returns the services that must run alongside the HTTP server.
func (s *Server) Background() []suture.Service {
	return s.background
}

// Close releases stores and the event bus in reverse order of creation.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// grantLister reads the claims summary input straight from the store.
type grantLister struct {
	store accessdomain.Store
}

func (g grantLister) ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*accessdomain.Grant, error) {
	return g.store.ListByUser(ctx, userID, activeOnly)
}

func syncHandler(syncer *claims.Synchronizer) events.Handler {
	return func(ctx context.Context, event events.AccessChanged) error {
		return syncer.Sync(ctx, event.UserID)
	}
}
