// Command consumer drains one queue and dispatches deliveries to the
// category handlers. Run one process per queue:
//
//	CAPTABLE_AMQP_QUEUE=audit_events    ./consumer
//	CAPTABLE_AMQP_QUEUE=notifications   ./consumer
//	CAPTABLE_AMQP_QUEUE=events          ./consumer
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"captable/internal/audit"
	auditpg "captable/internal/audit/store/postgres"
	"captable/internal/broker"
	"captable/internal/notification"
	"captable/internal/platform/config"
	"captable/internal/platform/logger"
	"captable/internal/platform/postgres"
	"captable/internal/platform/redis"
	"captable/internal/system"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresDSN, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	auditStore := auditpg.New(db)
	if err := auditStore.EnsureSchema(ctx); err != nil {
		return err
	}

	auditMetrics := audit.NewMetrics()
	auditHandler := audit.NewHandler(auditStore, log, audit.WithMetrics(auditMetrics))

	// The notification inbox needs Redis; without it notifications are
	// delivered to an in-memory inbox that dies with the process.
	var inbox notification.Inbox
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		inbox = notification.NewRedisInbox(redisClient)
	} else {
		log.Warn("redis not configured, using in-memory notification inbox")
		inbox = notification.NewMemoryInbox()
	}
	notificationHandler := notification.NewHandler(inbox, log)

	systemHandler := system.NewHandler(log)

	router := broker.NewRouter(log, auditHandler, notificationHandler, systemHandler)
	consumer := broker.NewConsumer(cfg.AMQP.URL, router, log,
		broker.WithConsumerMetrics(broker.NewMetrics()),
	)

	log.Info("starting consumer", "queue", cfg.AMQP.Queue)
	return consumer.Consume(ctx, cfg.AMQP.Queue)
}
