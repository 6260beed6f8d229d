package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_scheduler/internal/auth"
	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/db"
	"github.com/austindbirch/harbor_scheduler/internal/health"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/queue"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
	"github.com/austindbirch/harbor_scheduler/internal/webhook"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(cfg.AppName)
	logging.SetDefaultService(cfg.AppName)

	shutdown, err := tracing.Init(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	spaces, err := config.LoadSpaces(cfg.SpacesFile, config.DefaultValidators())
	if err != nil {
		logger.Plain().WithError(err).Fatal("load spaces failed")
	}
	logger.Plain().WithFields(map[string]any{
		"file":   cfg.SpacesFile,
		"spaces": spaces.IDs(),
	}).Info("spaces loaded")

	if cfg.MigrateOnStart {
		version, err := db.Migrate(cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("migrate failed")
		}
		logger.Plain().WithField("version", version).Info("schema up to date")
	}

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	coord := schedule.NewCoordinator(spaces, queue.NewStore(pool), schedule.WithLogger(logger))
	hook := webhook.NewHandler(coord, auth.NewEvaluator(spaces.Policy), logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, hook)
	mux.HandleFunc("/healthz", health.HTTPHandler(health.Postgres(pool)))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr": httpSrv.Addr,
			"path": cfg.WebhookPath,
		}).Info("scheduler HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("scheduler HTTP server failed")
		}
	}()

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down scheduler")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("scheduler stopped")
}
