// The alert-router gateway accepts monitoring webhooks, normalizes them
// and fans the alerts out to the configured notification channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/config"
	"github.com/ebpay-ops/alert-router/dedup"
	"github.com/ebpay-ops/alert-router/historian"
	routerhttp "github.com/ebpay-ops/alert-router/http"
	"github.com/ebpay-ops/alert-router/images"
	"github.com/ebpay-ops/alert-router/lokiclient"
	"github.com/ebpay-ops/alert-router/notify"
	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/routing"
	"github.com/ebpay-ops/alert-router/server"
	"github.com/ebpay-ops/alert-router/templates"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config.file", config.Path(), "Path to the gateway configuration file.")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.Logging)
	defer closeLog()

	level.Info(logger).Log("msg", "Starting alert-router", "config", *configFile)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := notify.NewMetrics(reg)

	dispatcher, err := buildDispatcher(cfg, metrics, logger)
	if err != nil {
		level.Error(logger).Log("msg", "Failed to build delivery pipeline", "err", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		MaxBodySize:  cfg.Server.MaxBodySize.Int64(),
	}, dispatcher, reg, logger)

	var g run.Group
	{
		// Termination handler.
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					level.Info(logger).Log("msg", "Received SIGTERM, exiting gracefully")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		g.Add(
			func() error {
				return srv.ListenAndServe()
			},
			func(error) {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					level.Warn(logger).Log("msg", "Server shutdown did not drain", "err", err)
				}
			},
		)
	}
	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "Gateway terminated", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "Gateway stopped")
}

// newLogger builds the process logger: level-filtered logfmt or JSON to
// stderr, teed into a size-rotated file when one is configured.
func newLogger(cfg config.LoggingConfig) (log.Logger, func()) {
	var w io.Writer = os.Stderr
	closeLog := func() {}
	if cfg.Filename != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxBytes.Megabytes(),
			MaxBackups: cfg.BackupCount,
		}
		w = io.MultiWriter(os.Stderr, rotated)
		closeLog = func() { _ = rotated.Close() }
	}

	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = level.NewFilter(logger, allowLevel(cfg.Level))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger, closeLog
}

func allowLevel(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func buildDispatcher(cfg *config.Config, metrics *notify.Metrics, logger log.Logger) (*notify.Dispatcher, error) {
	router, err := routing.NewRouter(cfg.Routing)
	if err != nil {
		return nil, err
	}
	renderer, err := templates.NewRenderer(cfg.Templates, log.With(logger, "component", "templates"))
	if err != nil {
		return nil, err
	}
	deduper, err := dedup.New(cfg.JenkinsDedup, clock.New())
	if err != nil {
		return nil, err
	}

	ns := routerhttp.NewClient(
		log.With(logger, "component", "sender"),
		routerhttp.WithProxy(cfg.ProxyConfig()),
	)

	var es receivers.EmailSender
	if cfg.SMTP.Host != "" {
		es, err = receivers.NewEmailSenderFactory(cfg.SMTP, logger)(receivers.Metadata{})
		if err != nil {
			return nil, err
		}
	}

	ccs, err := cfg.ChannelConfigs()
	if err != nil {
		return nil, err
	}
	channels, err := notify.BuildChannels(ccs, ns, es, receivers.NoopDecrypt, log.With(logger, "component", "channels"))
	if err != nil {
		return nil, err
	}

	imgs := map[string]*images.Provider{
		alert.SourcePrometheus: images.NewProvider(cfg.PrometheusImage, nil, log.With(logger, "component", "images", "source", alert.SourcePrometheus), nil),
		alert.SourceGrafana:    images.NewProvider(cfg.GrafanaImage, nil, log.With(logger, "component", "images", "source", alert.SourceGrafana), nil),
	}

	dcfg := notify.DispatcherConfig{
		Normalizer:      alert.NewNormalizer(log.With(logger, "component", "normalizer")),
		Deduper:         deduper,
		Router:          router,
		Channels:        channels,
		Renderer:        renderer,
		DefaultTemplate: cfg.Templates.Default,
		Images:          imgs,
		Metrics:         metrics,
		Logger:          log.With(logger, "component", "dispatcher"),
	}

	if cfg.History.Enabled() {
		hist, err := buildHistorian(cfg, metrics, logger)
		if err != nil {
			return nil, err
		}
		dcfg.Historian = hist
		go func() {
			if err := hist.TestConnection(context.Background()); err != nil {
				level.Warn(logger).Log("msg", "Delivery history sink unreachable", "err", err)
			}
		}()
	}

	return notify.NewDispatcher(dcfg)
}

func buildHistorian(cfg *config.Config, metrics *notify.Metrics, logger log.Logger) (*historian.DeliveryHistorian, error) {
	u, err := url.Parse(cfg.History.URL)
	if err != nil {
		return nil, fmt.Errorf("history url: %w", err)
	}
	lcfg := lokiclient.LokiConfig{
		ReadPathURL:       u,
		WritePathURL:      u,
		BasicAuthUser:     cfg.History.BasicAuthUser,
		BasicAuthPassword: cfg.History.BasicAuthPassword,
		TenantID:          cfg.History.TenantID,
		ExternalLabels:    cfg.History.ExternalLabels,
		Encoder:           lokiclient.JSONEncoder{},
	}
	if cfg.History.Encoding == "snappy" {
		lcfg.Encoder = lokiclient.SnappyProtoEncoder{}
	}
	return historian.NewDeliveryHistorian(
		log.With(logger, "component", "delivery-historian"),
		lcfg,
		&nethttp.Client{},
		metrics.HistoryBytesWritten,
		metrics.HistoryWriteDuration,
		metrics.HistoryWritesTotal,
		metrics.HistoryWritesFailed,
		noop.NewTracerProvider().Tracer("alert-router"),
	), nil
}
