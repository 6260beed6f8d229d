package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/db"
	"github.com/austindbirch/harbor_scheduler/internal/health"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/queue"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

const service = "harbor-scheduler-dispatcher"

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New(service)
	logging.SetDefaultService(service)

	shutdown, err := tracing.Init(ctx, service)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer prod.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(health.Postgres(pool), health.NSQ(prod)))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Dispatcher.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("dispatcher HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dispatcher HTTP server failed")
		}
	}()

	d := queue.NewDispatcher(queue.NewStore(pool), prod, cfg.NSQ, cfg.Dispatcher, queue.WithDispatcherLogger(logger))
	d.Run(ctx)

	logger.Plain().Info("Shutting down dispatcher")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("dispatcher stopped")
}
