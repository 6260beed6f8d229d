package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/contentapi"
	"github.com/austindbirch/harbor_scheduler/internal/health"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/tasks"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

const service = "harbor-scheduler-worker"

// laneTopics lists the topics a worker consumes, one per lane.
func laneTopics(c config.NSQ) []string {
	return []string{c.PublishTopic, c.UnpublishTopic}
}

func consumerConfig(w config.Worker) *nsq.Config {
	conf := nsq.NewConfig()
	if w.MaxInFlight > 0 {
		conf.MaxInFlight = w.MaxInFlight
	}
	// nsqd gives up on its own after this many deliveries; keep it above ours.
	if w.MaxAttempts > 0 && w.MaxAttempts < 65535 {
		conf.MaxAttempts = uint16(w.MaxAttempts + 1)
	}
	return conf
}

func clientOptions(c config.ContentAPI) []contentapi.Option {
	return []contentapi.Option{
		contentapi.WithBaseURL(c.BaseURL),
		contentapi.WithEnvironment(c.Environment),
		contentapi.WithTimeout(c.Timeout),
	}
}

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

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	exec := tasks.NewExecutor(tasks.NewClientFactory(clientOptions(cfg.ContentAPI)...))
	opts := []tasks.HandlerOption{
		tasks.WithHandlerLogger(logger),
		tasks.WithBaseContext(ctx),
	}

	var checks []health.Check
	if cfg.Worker.PublishDLQ {
		dlqProducer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
		opts = append(opts, tasks.WithDeadLetters(dlqProducer, cfg.NSQ.DLQTopic))
		checks = append(checks, health.NSQ(dlqProducer))
	}
	handler := tasks.NewHandler(exec, tasks.PolicyFromConfig(cfg.Worker), opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checks...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	topics := laneTopics(cfg.NSQ)
	consumers := make([]*nsq.Consumer, 0, len(topics))
	for _, topic := range topics {
		consumer, err := startConsumer(cfg, topic, handler)
		if err != nil {
			logger.Plain().WithField("topic", topic).WithError(err).Fatal("nsq consumer start failed")
		}
		consumers = append(consumers, consumer)
	}

	monitor := metrics.NewBacklogMonitor(metrics.NsqdHTTPAddr(cfg.NSQ.NsqdTCPAddr), cfg.NSQ.WorkerChannel, topics...)
	go monitor.Run(ctx, 15*time.Second, func(err error) {
		logger.Plain().WithError(err).Warn("backlog update failed")
	})

	logger.Plain().WithFields(map[string]any{
		"topics":  topics,
		"channel": cfg.NSQ.WorkerChannel,
	}).Info("worker service started")

	<-ctx.Done()

	logger.Plain().Info("Shutting down worker service")
	for _, c := range consumers {
		c.Stop()
	}
	for _, c := range consumers {
		<-c.StopChan
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}

func startConsumer(cfg config.Config, topic string, h nsq.Handler) (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(topic, cfg.NSQ.WorkerChannel, consumerConfig(cfg.Worker))
	if err != nil {
		return nil, fmt.Errorf("new consumer: %w", err)
	}
	consumer.AddHandler(h)

	// Connecting directly to nsqd creates the channel up front instead of on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		return nil, fmt.Errorf("connect to nsqd: %w", err)
	}
	if cfg.NSQ.LookupHTTPAddr != "" {
		if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
			return nil, fmt.Errorf("connect to lookupd: %w", err)
		}
	}
	return consumer, nil
}
