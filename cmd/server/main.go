// Command server runs the HTTP-facing side of the pipeline: the in-process
// event bus, the durable publishers and the audit admin API. The queue
// consumers run as a separate process (cmd/consumer).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"captable/internal/audit"
	auditpg "captable/internal/audit/store/postgres"
	"captable/internal/broker"
	"captable/internal/events"
	"captable/internal/platform/config"
	"captable/internal/platform/httpserver"
	"captable/internal/platform/logger"
	"captable/internal/platform/middleware"
	"captable/internal/platform/postgres"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
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

	publisher := broker.NewPublisher(cfg.AMQP.URL, log,
		broker.WithPublisherMetrics(broker.NewMetrics()),
	)
	defer publisher.Close()

	auditPublisher := broker.NewAuditPublisher(publisher)
	systemPublisher := broker.NewSystemPublisher(publisher)

	bus := events.NewBus(log,
		events.WithQueueSize(cfg.BusQueueSize),
		events.WithMetrics(events.NewMetrics()),
	)
	registerBusHandlers(bus, auditStore, auditPublisher, log)
	bus.Start()
	defer bus.Stop()

	systemPublisher.PublishApplicationStartup(ctx, cfg.Version, cfg.Environment)

	auditService := audit.NewService(auditStore, log)
	requireAdmin := middleware.RequireRole("admin", []byte(cfg.JWTSigningKey), log)
	auditHTTP := audit.NewHTTPHandler(auditService, log, requireAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	auditHTTP.Register(r)

	srv := httpserver.New(cfg.Addr, r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerBusHandlers wires the in-process subscriptions. The audit trail
// write on audit.log is synchronous so callers observe persistence failures;
// the durable fan-out and activity logging run on the async worker.
func registerBusHandlers(bus *events.Bus, store audit.Store, publisher *broker.AuditPublisher, log *slog.Logger) {
	bus.Subscribe(events.KindAuditLog, audit.BusHandler(store, log), false)

	activityLog := events.NewHandler("activity-log", func(ctx context.Context, e events.Event) error {
		log.InfoContext(ctx, "business event",
			"kind", e.Kind,
			"event_id", e.ID,
			"source", e.Source,
		)
		return nil
	})
	for _, kind := range []events.Kind{
		events.KindUserLogin,
		events.KindShareholderCreated,
		events.KindShareIssued,
		events.KindCertificateGenerated,
	} {
		bus.Subscribe(kind, activityLog, false)
	}

	durableFanout := events.NewHandler("durable-fanout", func(ctx context.Context, e events.Event) error {
		publisher.PublishEvent(ctx, e.Kind, e.Payload)
		return nil
	})
	for _, kind := range []events.Kind{
		events.KindUserLogin,
		events.KindUserLogout,
		events.KindShareholderCreated,
		events.KindShareholderUpdated,
		events.KindShareIssued,
		events.KindCertificateGenerated,
		events.KindPermissionChanged,
		events.KindDataExport,
		events.KindSystemError,
	} {
		bus.Subscribe(kind, durableFanout, true)
	}
}
