package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/vigil-agent/internal/cache"
	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/engine"
	"github.com/vigilstack/vigil-agent/internal/metrics"
	"github.com/vigilstack/vigil-agent/internal/repo"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

func main() {
	var configPath string
	var once bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting vigil-agent", slog.Duration("interval", cfg.Agent.Interval))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var redisCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			redisCloser = provider
		}
	}
	if redisCloser != nil {
		defer redisCloser.Close()
	}

	telemetry := repo.NewTelemetryClient(cfg.Telemetry, utils.Named(logger, "telemetry"))
	knowledge := repo.NewKnowledgeRepo(cfg.Knowledge, cacheProvider, cfg.Cache.RunbooksTTL, cfg.Cache.SimilarIncidentsTTL)
	reasoner := repo.NewReasonerClient(cfg.Reasoner)
	tickets := repo.NewTicketClient(cfg.Tickets)
	notifier := repo.NewNotifierClient(cfg.Notifications)

	rules, err := engine.LoadClassificationRules(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	var groupClassifier engine.GroupClassifier
	if cfg.Reasoner.UseAIClassification {
		groupClassifier = reasoner
	}
	classifier := engine.NewSeverityClassifier(rules, groupClassifier, logger)
	correlator := engine.NewCorrelationEngine(cfg.Reasoner.PromotionFloor)

	pipeline := engine.NewPipeline(
		utils.Named(logger, "pipeline"),
		telemetry,
		knowledge,
		reasoner,
		correlator,
		classifier,
		tickets,
		notifier,
		knowledge,
		engine.PipelineOptions{
			Workers:      cfg.Agent.Workers,
			CycleTimeout: cfg.Agent.CycleTimeout,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probeCtx, cancelProbe := context.WithTimeout(ctx, 15*time.Second)
	for name, probeErr := range pipeline.TestConnections(probeCtx) {
		if probeErr != nil {
			logger.Warn("collaborator unreachable", slog.String("collaborator", name), slog.Any("error", probeErr))
		} else {
			logger.Info("collaborator reachable", slog.String("collaborator", name))
		}
	}
	cancelProbe()

	var metricsServer *http.Server
	if cfg.Agent.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Agent.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Agent.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	if once || !cfg.Agent.Continuous {
		summary := pipeline.Run(ctx)
		if !summary.Success {
			logger.Error("cycle failed", slog.String("error", summary.Error))
		}
	} else {
		pipeline.RunContinuous(ctx, cfg.Agent.Interval)
	}

	stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("vigil-agent stopped")
}
