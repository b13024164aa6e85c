package main

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

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/openmsh/as4gateway/internal/platform/config"
	"github.com/openmsh/as4gateway/internal/platform/database"
	"github.com/openmsh/as4gateway/internal/platform/logger"
	"github.com/openmsh/as4gateway/internal/platform/messagebroker"
	"github.com/openmsh/as4gateway/internal/platform/taskexecutor"

	"github.com/openmsh/as4gateway/internal/msh/app"
	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/msh/notification"
	"github.com/openmsh/as4gateway/internal/msh/payload"
	"github.com/openmsh/as4gateway/internal/msh/pmode"
	"github.com/openmsh/as4gateway/internal/msh/pull"
	"github.com/openmsh/as4gateway/internal/msh/queue"
	"github.com/openmsh/as4gateway/internal/msh/repository/postgres"
	transporthttp "github.com/openmsh/as4gateway/internal/msh/transport/http"
)

const (
	serviceName     = "msh-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	if err := database.ApplyMigrations(cfg.PostgresDSN, log); err != nil {
		log.Error("Failed to apply database migrations", "error", err)
		os.Exit(1)
	}

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, log, serviceName)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(mainCtx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("Redis connection initialized")

	payloadStore, err := newPayloadStore(mainCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize payload store", "error", err)
		os.Exit(1)
	}

	// Repositories.
	dictRepo := postgres.NewPgDictionaryRepository(dbPool, log)
	msgRepo := postgres.NewPgMessageRepository(dbPool, dictRepo, log)
	logRepo := postgres.NewPgMessageLogRepository(dbPool, dictRepo, log)
	signalRepo := postgres.NewPgSignalMessageRepository(dbPool, log)
	groupRepo := postgres.NewPgMessageGroupRepository(dbPool, log)
	housekeepingRepo := postgres.NewPgHousekeepingRepository(dbPool, log)
	auditRepo := postgres.NewPgAuditRepository(dbPool, log)

	// Collaborators.
	legProvider := pmode.NewStaticProvider(domain.LegConfiguration{
		Name:           cfg.LegName,
		MaxAttempts:    cfg.LegMaxAttempts,
		RetryTimeout:   cfg.LegRetryTimeout,
		PayloadMaxSize: cfg.LegPayloadMaxSize,
		MEPBinding:     cfg.LegMEPBinding,
	})
	statusResolver := pmode.NewRestoreStatusResolver(legProvider, log)
	priorityRules := make([]pmode.PriorityRule, 0, len(cfg.PriorityRules))
	for _, rule := range cfg.PriorityRules {
		priorityRules = append(priorityRules, pmode.PriorityRule{
			Service:  rule.Service,
			Action:   rule.Action,
			Priority: rule.Priority,
		})
	}
	priorityResolver := pmode.NewRulePriorityResolver(priorityRules)
	pullLock := pull.NewLockService(redisClient, cfg.PullLockTTL, log)
	observer := notification.NewNATSObserver(natsClient, cfg.StatusEventSubject, log)
	durableQueue := queue.NewNATSQueue(natsClient, log)
	executor := taskexecutor.New(log)

	// Application services.
	scheduler := app.NewDispatchScheduler(durableQueue, msgRepo, logRepo, priorityResolver, app.QueueConfig{
		SendMessage:      domain.QueueRef(cfg.SendMessageSubject),
		SendLargeMessage: domain.QueueRef(cfg.SendLargeMessageSubject),
		SplitAndJoin:     domain.QueueRef(cfg.SplitAndJoinSubject),
	}, log)
	restoreService := app.NewRestoreService(
		msgRepo, logRepo, statusResolver, legProvider, pullLock, observer, auditRepo,
		scheduler, time.Duration(cfg.ResendCooldownMinutes)*time.Minute, log,
	)
	retentionService := app.NewRetentionService(
		msgRepo, logRepo, signalRepo, housekeepingRepo, payloadStore, observer,
		cfg.RetentionPeriod, cfg.RetentionBatchSize, log,
	)
	messagingService := app.NewMessagingService(
		msgRepo, logRepo, groupRepo, payloadStore, executor, scheduler,
		cfg.PayloadScheduleThresholdMB, log,
	)

	submitConsumer := queue.NewSubmitConsumer(natsClient, messagingService, logRepo, scheduler, legProvider, log)
	submitSub, err := submitConsumer.Start(mainCtx, cfg.SubmitMessageSubject)
	if err != nil {
		log.Error("Failed to subscribe to submission subject", "error", err)
		os.Exit(1)
	}
	defer submitSub.Unsubscribe()
	log.Info("Submission consumer started", "subject", cfg.SubmitMessageSubject)

	handler := transporthttp.NewMessageHandler(restoreService, retentionService, log, validator.New())
	router := transporthttp.NewRouter(handler, cfg.AdminJWTSecret, log)

	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminHTTPPort),
		Handler: router,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("Starting admin HTTP server...", "address", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Starting metrics server...", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Admin HTTP server shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	log.Info("Service components initialized. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig)
	case <-groupCtx.Done():
		log.Error("A critical component failed, initiating shutdown")
	}

	mainCancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during graceful shutdown", "error", err)
	}

	// Let in-flight background payload writes finish before closing stores.
	executor.Wait()
	if closer, ok := payloadStore.(interface{ Close(context.Context) error }); ok {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := closer.Close(closeCtx); err != nil {
			log.Error("Payload store close failed", "error", err)
		}
	}

	log.Info("Service shutdown complete.")
}

// newPayloadStore picks the payload backend: local filesystem by default,
// GridFS when configured.
func newPayloadStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.PayloadPersistenceProvider, error) {
	switch cfg.PayloadStorageBackend {
	case "gridfs":
		return payload.NewGridFSStore(ctx, &payload.GridFSConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Bucket:   cfg.GridFSBucket,
		}, log)
	default:
		return payload.NewFileStore(cfg.PayloadFileDir, log)
	}
}
