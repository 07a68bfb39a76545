package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/igm-service/internal/api/http"
	"github.com/spec-kit/igm-service/internal/api/http/handlers"
	"github.com/spec-kit/igm-service/internal/auth"
	"github.com/spec-kit/igm-service/internal/client"
	"github.com/spec-kit/igm-service/internal/config"
	"github.com/spec-kit/igm-service/internal/events"
	"github.com/spec-kit/igm-service/internal/observability"
	"github.com/spec-kit/igm-service/internal/persistence"
	"github.com/spec-kit/igm-service/internal/repository"
	"github.com/spec-kit/igm-service/internal/service"
	"github.com/spec-kit/igm-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Enabled() {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		issueRepo     repository.IssueRepository
		selectionRepo repository.SelectedLogisticsRepository
		health        = map[string]handlers.Pinger{"postgres": nil, "redis": redis}
	)
	if pg.Enabled() {
		issueRepo = repository.NewIssueRepository(pg.PoolHandle())
		selectionRepo = repository.NewSelectedLogisticsRepository(pg.PoolHandle())
		health["postgres"] = pg
	} else {
		issueRepo = repository.NewMemoryIssueRepository()
		selectionRepo = repository.NewMemorySelectedLogisticsRepository()
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger, metrics).RegisterHandlers()

	if len(cfg.Kafka.Brokers) > 0 {
		relay, err := events.NewKafkaRelay(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Fatal("failed to init kafka relay", zap.Error(err))
		}
		relay.Register(dispatcher)
		defer relay.Close() //nolint:errcheck
	}

	signer, err := client.NewSigner(cfg.Network.SubscriberID, cfg.Network.UniqueKeyID, cfg.Network.SigningPrivateKey)
	if err != nil {
		logger.Fatal("invalid signing key", zap.Error(err))
	}
	if signer == nil {
		logger.Warn("BPP_SIGNING_PRIVATE_KEY not provided; outbound envelopes are unsigned")
	}

	timeout := cfg.Network.OutboundTimeout()
	gateway := client.NewGatewayClient(cfg.Network.GatewayBaseURL, timeout, signer, metrics, logger)
	logistics := client.NewLogisticsClient(cfg.Network.LogisticsBaseURL, timeout, signer, metrics, logger)
	tickets := client.NewTicketClient(cfg.Ticketing.BaseURL, cfg.Ticketing.APIKey, timeout, metrics, logger)
	var directory service.ProviderDirectory
	if cfg.Seller.BaseURL != "" {
		directory = client.NewSellerClient(cfg.Seller.BaseURL, timeout, redis, cfg.Seller.CacheTTL(), metrics, logger)
	}

	scheduler := worker.NewDeadlineScheduler(logger)
	defer scheduler.Shutdown()

	issueService := service.NewIssueService(service.IssueDependencies{
		Issues:         issueRepo,
		Builder:        service.NewResolutionBuilder(cfg.Network),
		Router:         service.NewCascadeRouter(cfg.Issue.CascadeSubCategories, selectionRepo, logistics, cfg.Network),
		Scheduler:      scheduler,
		Gateway:        gateway,
		Tickets:        tickets,
		Directory:      directory,
		Dispatcher:     dispatcher,
		Logger:         logger,
		SuperAdminRole: cfg.Auth.SuperAdminRole,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, 0)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, health),
		Issues:         handlers.NewIssueHandler(issueService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
