package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-storefront/internal/config"
	"go-storefront/internal/database"
	"go-storefront/internal/event"
	"go-storefront/internal/handler"
	"go-storefront/internal/logger"
	"go-storefront/internal/metrics"
	"go-storefront/internal/middleware"
	"go-storefront/internal/repository"
	"go-storefront/internal/router"
	"go-storefront/internal/service"
	"go-storefront/internal/telemetry"
)

const serviceName = "go-storefront"

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	a := &App{}
	ctx := context.Background()

	shutdownTracing := telemetry.Setup(ctx, serviceName)
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	})

	var (
		stores service.Stores
		health *handler.HealthHandler
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		stores = service.NewMemoryStores(repository.NewMemoryStore())
		health = handler.NewHealthHandler(nil)
	default:
		slog.Info("applying database migrations")
		if err := database.EnsureSchema(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		stores = service.NewPostgresStores(db)
		health = handler.NewHealthHandler(db)
		slog.Info("database ready")
	}

	issuer, err := service.NewTokenIssuer(service.TokenConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ExpiresIn: time.Duration(cfg.JWTExpiresInMinutes) * time.Minute,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	bus := event.NewBus()
	if cfg.RabbitMQURL != "" {
		forwarder, err := event.DialAMQP(cfg.RabbitMQURL, cfg.SessionEventsQueue)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		events, unsubscribe := bus.Subscribe()
		forwardCtx, cancelForward := context.WithCancel(context.Background())
		go forwarder.Run(forwardCtx, events)
		a.cleanupFuncs = append(a.cleanupFuncs, func() {
			cancelForward()
			unsubscribe()
			if err := forwarder.Close(); err != nil {
				slog.Warn("rabbitmq close failed", "error", err)
			}
		})
		slog.Info("forwarding session events", "queue", cfg.SessionEventsQueue)
	}

	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	if cfg.RedisURL != "" {
		client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rateLimit.WithShared(middleware.NewRedisWindow(client, "storefront:ratelimit"))
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })
		slog.Info("rate limits shared through redis")
	}

	sessionService := service.NewSessionService(stores, issuer, bus, recorder)
	accountService := service.NewAccountService(stores, service.AccountConfig{
		BcryptCost:  cfg.BcryptCost,
		DefaultRole: cfg.DefaultUserRole,
	}, bus, recorder)
	auditService := service.NewAuditService(stores.Audits)

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	service.NewTokenJanitor(stores.Tokens, cfg.TokenPurgeRetention, recorder).Start(janitorCtx, cfg.TokenPurgeInterval)
	a.cleanupFuncs = append(a.cleanupFuncs, cancelJanitor)

	appRouter := router.New(
		cfg,
		middleware.NewAuthMiddleware(issuer),
		rateLimit,
		handler.NewAuthHandler(sessionService, accountService),
		handler.NewAuditHandler(auditService),
		handler.NewUserHandler(accountService),
		health,
		metrics.Handler(registry),
	)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

// cleanup runs in reverse registration order.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
