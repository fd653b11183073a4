package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/handlers"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/auth"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/config"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/idempotency"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/observability"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/ratelimit"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/secrets"
)

const (
	shutdownTimeout    = 15 * time.Second
	callbackPerMinute  = 120
	callbackBurst      = 20
	pickupPerMinute    = 30
	pickupBurst        = 10
	defaultBuildCommit = "unknown"
)

var (
	version = "dev"
	commit  = defaultBuildCommit
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "printstack api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("API_LOG_LEVEL")
	environment, _ := config.Lookup("API_ENVIRONMENT")
	if level == "" {
		level = "info"
	}
	if environment == "" {
		environment = "local"
	}
	baseLogger, err := observability.NewLogger(level, environment)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("api")

	secretProject, err := config.Lookup("API_FIREBASE_PROJECT_ID")
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(secretProject),
	)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("Gateway.SaltKey", "OTP.HashKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("missing required secrets %v", missing.RedactedNames())
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	infra, err := buildInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	orderService, err := buildOrderService(cfg, infra, logger)
	if err != nil {
		return err
	}

	var verifierOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifierOpts...)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier)

	idempotencyMiddleware := idempotency.Middleware(
		infra.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	pickupThrottle := ratelimit.NewThrottle(pickupPerMinute, pickupBurst)
	callbackThrottle := ratelimit.NewThrottle(callbackPerMinute, callbackBurst)

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, handlers.WithIdempotency(idempotencyMiddleware))
	shopHandlers := handlers.NewShopOrderHandlers(authenticator, orderService, handlers.WithPickupThrottle(pickupThrottle.Middleware))
	paymentHandlers := handlers.NewPaymentHandlers(orderService, cfg.Gateway.FrontendReturnURL, handlers.WithPaymentThrottle(callbackThrottle.Middleware))

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     version,
			CommitSHA:   commit,
			Environment: cfg.Environment,
			StartedAt:   startedAt,
		}),
	}
	for name, check := range infra.checks {
		healthOpts = append(healthOpts, handlers.WithHealthCheck(name, check))
	}

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(cfg.Firebase.ProjectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithShopRoutes(shopHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(httpLogger),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		httpLogger.Info("printstack api listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("version", version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if infra.sweep != nil {
		sweepLogger := logger.Named("idempotency")
		group.Go(func() error {
			return sweepIdempotency(groupCtx, infra.sweep, sweepLogger)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}
