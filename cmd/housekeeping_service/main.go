package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/openmsh/as4gateway/internal/msh/app"
	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/msh/notification"
	"github.com/openmsh/as4gateway/internal/msh/payload"
	"github.com/openmsh/as4gateway/internal/msh/repository/postgres"
	"github.com/openmsh/as4gateway/internal/platform/config"
	"github.com/openmsh/as4gateway/internal/platform/database"
	"github.com/openmsh/as4gateway/internal/platform/logger"
	"github.com/openmsh/as4gateway/internal/platform/messagebroker"
)

const (
	serviceName     = "housekeeping-service"
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

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, log, serviceName)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	payloadStore, err := newPayloadStore(mainCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize payload store", "error", err)
		os.Exit(1)
	}

	dictRepo := postgres.NewPgDictionaryRepository(dbPool, log)
	msgRepo := postgres.NewPgMessageRepository(dbPool, dictRepo, log)
	logRepo := postgres.NewPgMessageLogRepository(dbPool, dictRepo, log)
	signalRepo := postgres.NewPgSignalMessageRepository(dbPool, log)
	housekeepingRepo := postgres.NewPgHousekeepingRepository(dbPool, log)
	observer := notification.NewNATSObserver(natsClient, cfg.StatusEventSubject, log)

	retention := app.NewRetentionService(
		msgRepo, logRepo, signalRepo, housekeepingRepo, payloadStore, observer,
		cfg.RetentionPeriod, cfg.RetentionBatchSize, log,
	)

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	_, err = sched.NewJob(
		gocron.CronJob(cfg.RetentionCronExpr, false),
		gocron.NewTask(func() {
			runRetentionSweep(mainCtx, retention, cfg.Tenants, log)
		}),
		gocron.WithName("retention-sweep"),
	)
	if err != nil {
		log.Error("Failed to schedule retention sweep", "error", err)
		os.Exit(1)
	}

	sched.Start()
	log.Info("Retention sweep scheduled", "cron", cfg.RetentionCronExpr, "tenants", cfg.Tenants)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Received termination signal", "signal", sig)

	mainCancel()
	if err := sched.Shutdown(); err != nil {
		log.Error("Scheduler shutdown failed", "error", err)
	}

	if closer, ok := payloadStore.(interface{ Close(context.Context) error }); ok {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := closer.Close(closeCtx); err != nil {
			log.Error("Payload store close failed", "error", err)
		}
	}

	log.Info("Service shutdown complete.")
}

// runRetentionSweep deletes expired messages tenant by tenant. Batches keep
// going per tenant until the expired backlog is drained; one tenant's
// failure never blocks the others.
func runRetentionSweep(ctx context.Context, retention *app.RetentionService, tenants []string, log *slog.Logger) {
	for _, t := range tenants {
		tenant := domain.Tenant(t)
		for {
			deleted, err := retention.DeleteExpired(ctx, tenant)
			if err != nil {
				log.ErrorContext(ctx, "Retention sweep failed", "tenant", tenant, "error", err)
				break
			}
			if deleted == 0 {
				break
			}
			log.InfoContext(ctx, "Retention sweep deleted expired messages", "tenant", tenant, "count", deleted)
		}
	}
}

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
