package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/handlers"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/payments"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/config"
	pfirestore "github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/firestore"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/idempotency"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/jobs"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/observability"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/ratelimit"
	pstorage "github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/storage"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
	firestorerepo "github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories/firestore"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories/memory"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories/postgres"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/services"
)

const (
	phonePeProvider          = "phonepe"
	idempotencySweepInterval = 10 * time.Minute
	idempotencySweepBatch    = 500
)

// infrastructure owns every long lived client so main can release them in reverse order.
type infrastructure struct {
	orders        repositories.OrderRepository
	shops         repositories.ShopRepository
	limiter       services.AttemptLimiter
	idempotency   idempotency.Store
	notifications services.NotificationDispatcher
	events        services.OrderEventPublisher
	documents     services.DocumentSigner
	checks        map[string]handlers.Checker

	// sweep is set when idempotency records live in process memory and need periodic eviction.
	sweep *idempotency.MemoryStore

	closers []func()
}

func (i *infrastructure) Close() {
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		i.closers[idx]()
	}
}

func (i *infrastructure) onClose(fn func()) {
	i.closers = append(i.closers, fn)
}

func buildInfrastructure(ctx context.Context, cfg config.Config, logger *zap.Logger) (*infrastructure, error) {
	infra := &infrastructure{checks: make(map[string]handlers.Checker)}
	ok := false
	defer func() {
		if !ok {
			infra.Close()
		}
	}()

	if err := infra.openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := infra.openRedis(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := infra.openPubSub(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := infra.openDocuments(cfg, logger); err != nil {
		return nil, err
	}
	ok = true
	return infra, nil
}

func (i *infrastructure) openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		store := memory.NewStore()
		i.orders, i.shops = store, store
		i.checks["store"] = store
		logger.Warn("using in-memory order store; data is lost on restart")
	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		i.onClose(store.Close)
		if err := postgres.Migrate(ctx, store.Pool()); err != nil {
			return fmt.Errorf("migrate postgres store: %w", err)
		}
		i.orders, i.shops = store, store
		i.checks["store"] = store
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		i.onClose(func() {
			if err := provider.Close(context.Background()); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		})
		orders, err := firestorerepo.NewOrderRepository(provider)
		if err != nil {
			return fmt.Errorf("init order repository: %w", err)
		}
		shops, err := firestorerepo.NewShopRepository(provider)
		if err != nil {
			return fmt.Errorf("init shop repository: %w", err)
		}
		i.orders, i.shops = orders, shops
		i.checks["store"] = provider
	}
	return nil
}

func (i *infrastructure) openRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		i.limiter = ratelimit.NewWindow(cfg.OTP.MaxAttempts, cfg.OTP.AttemptWindow, nil)
		store := idempotency.NewMemoryStore()
		i.idempotency = store
		i.sweep = store
		logger.Info("redis not configured; attempt limits and idempotency keys are process local")
		return nil
	}

	redis.SetLogger(observability.NewPrintfAdapter(logger.Named("redis")))
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	i.onClose(func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Startup continues: the limiter fails closed and readiness reports the outage.
		logger.Warn("redis ping failed", zap.Error(err))
	}

	limiter, err := ratelimit.NewRedis(client, cfg.OTP.MaxAttempts, cfg.OTP.AttemptWindow)
	if err != nil {
		return fmt.Errorf("init redis limiter: %w", err)
	}
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		return fmt.Errorf("init redis idempotency store: %w", err)
	}
	i.limiter = limiter
	i.idempotency = store
	i.checks["redis"] = handlers.CheckerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return nil
}

func (i *infrastructure) openPubSub(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	topics := cfg.PubSub
	if topics.NotificationsTopic == "" && topics.OrderEventsTopic == "" {
		return nil
	}
	if topics.ProjectID == "" {
		return errors.New("pubsub topics configured without a project id")
	}
	client, err := pubsub.NewClient(ctx, topics.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	i.onClose(func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	})

	if topics.NotificationsTopic != "" {
		topic := client.Topic(topics.NotificationsTopic)
		i.onClose(topic.Stop)
		publisher, err := jobs.NewNotificationPublisher(topic)
		if err != nil {
			return fmt.Errorf("init notification publisher: %w", err)
		}
		i.notifications = publisher
	}
	if topics.OrderEventsTopic != "" {
		topic := client.Topic(topics.OrderEventsTopic)
		i.onClose(topic.Stop)
		publisher, err := jobs.NewOrderEventPublisher(topic)
		if err != nil {
			return fmt.Errorf("init order event publisher: %w", err)
		}
		i.events = publisher
	}
	return nil
}

func (i *infrastructure) openDocuments(cfg config.Config, logger *zap.Logger) error {
	if cfg.Storage.DocumentsBucket == "" || cfg.Storage.SignerKey == "" {
		logger.Warn("document bucket or signer key missing; document links are disabled")
		return nil
	}
	signer, err := pstorage.NewServiceAccountSignerFromJSON([]byte(cfg.Storage.SignerKey))
	if err != nil {
		return fmt.Errorf("init storage signer: %w", err)
	}
	client, err := pstorage.NewDocumentClient(cfg.Storage.DocumentsBucket, signer)
	if err != nil {
		return fmt.Errorf("init document client: %w", err)
	}
	i.documents = client
	return nil
}

// sweepIdempotency evicts expired in-memory idempotency records until ctx is done.
func sweepIdempotency(ctx context.Context, store *idempotency.MemoryStore, logger *zap.Logger) error {
	ticker := time.NewTicker(idempotencySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if removed := store.CleanupExpired(now.UTC(), idempotencySweepBatch); removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}

func buildOrderService(cfg config.Config, infra *infrastructure, logger *zap.Logger) (services.OrderService, error) {
	eventLogger := observability.EventLogger(logger.Named("orders"))

	phonePe, err := payments.NewPhonePeProvider(payments.PhonePeConfig{
		MerchantID:  cfg.Gateway.MerchantID,
		SaltKey:     cfg.Gateway.SaltKey,
		SaltIndex:   cfg.Gateway.SaltIndex,
		Environment: cfg.Gateway.Environment,
		Timeout:     cfg.Gateway.Timeout,
		Logger:      payments.PhonePeLogger(observability.EventLogger(logger.Named("phonepe"))),
	})
	if err != nil {
		return nil, fmt.Errorf("init phonepe provider: %w", err)
	}
	gateway, err := payments.NewManager(
		map[string]payments.Provider{phonePeProvider: phonePe},
		payments.WithDefaultProvider(phonePeProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("init payment manager: %w", err)
	}

	otp, err := services.NewOTPHandoverManager(services.OTPHandoverManagerDeps{
		Orders:  infra.orders,
		Limiter: infra.limiter,
		Config: services.OTPConfig{
			HashKey: []byte(cfg.OTP.HashKey),
			TTL:     cfg.OTP.TTL,
		},
		Logger: eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("init otp manager: %w", err)
	}

	policy, err := services.ParseSkipAheadPolicy(cfg.Workflow.SkipAheadPolicy)
	if err != nil {
		return nil, fmt.Errorf("workflow policy: %w", err)
	}

	deps := services.OrderServiceDeps{
		Orders:          infra.orders,
		Shops:           infra.shops,
		Payments:        gateway,
		Webhooks:        map[string]payments.WebhookVerifier{phonePeProvider: phonePe},
		OTP:             otp,
		StateMachine:    services.NewOrderStateMachine(nil, policy),
		Composer:        services.NewNotificationComposer(cfg.Notifications.Locale),
		DocumentTTL:     cfg.Storage.DownloadTTL,
		CallbackBaseURL: cfg.Gateway.CallbackBaseURL,
		Meter:           otel.GetMeterProvider().Meter("printstack/orders"),
		Logger:          eventLogger,
		Notifications:   infra.notifications,
		Events:          infra.events,
		Documents:       infra.documents,
	}

	svc, err := services.NewOrderService(deps)
	if err != nil {
		return nil, fmt.Errorf("init order service: %w", err)
	}
	return svc, nil
}
