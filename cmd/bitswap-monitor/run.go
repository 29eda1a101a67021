package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/api"
	"github.com/mrd0ll4r/ipfs-tools/internal/archive"
	"github.com/mrd0ll4r/ipfs-tools/internal/broker"
	"github.com/mrd0ll4r/ipfs-tools/internal/config"
	"github.com/mrd0ll4r/ipfs-tools/internal/dispatch"
	"github.com/mrd0ll4r/ipfs-tools/internal/gateways"
	"github.com/mrd0ll4r/ipfs-tools/internal/geolocation"
	"github.com/mrd0ll4r/ipfs-tools/internal/logging"
	"github.com/mrd0ll4r/ipfs-tools/internal/metrics"
	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
	"github.com/mrd0ll4r/ipfs-tools/internal/supervisor"
	"github.com/mrd0ll4r/ipfs-tools/internal/telemetry"
)

const archiveQueueSize = 256

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadGateways loads the configured gateway file. Without one, every peer is
// a non-gateway.
func loadGateways(cfg *config.Config, logger *zap.Logger) (*gateways.Set, error) {
	if cfg.GatewayFilePath == "" {
		return gateways.Empty(), nil
	}
	set, err := gateways.Load(cfg.GatewayFilePath)
	if err != nil {
		return nil, fmt.Errorf("load gateway file: %w", err)
	}
	logger.Info("loaded gateway IDs", zap.Int("count", set.Len()), zap.String("path", cfg.GatewayFilePath))
	return set, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting bitswap-monitor", zap.String("version", version))
	cfg.Log(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	resolver, db, err := geolocation.Open(cfg.GeoIPDatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	gwSet, err := loadGateways(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.GatewayFilePath != "" {
		gateways.HandleReloadSignal(ctx, cfg.GatewayFilePath, gwSet, logger)
		if cfg.GatewayFileWatch {
			if err := gateways.Watch(ctx, cfg.GatewayFilePath, gwSet, logger); err != nil {
				return err
			}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	var (
		archiver supervisor.Archiver
		queue    *archive.Queue
	)
	if cfg.Archive.Enabled() {
		a, err := archive.New(ctx, cfg.Archive, logger)
		if err != nil {
			return err
		}
		queue = archive.NewQueue(a, archiveQueueSize, logger)
		archiver = queue
	}

	dialer := broker.NewDialer(logger)
	subscribe := func(ctx context.Context, address string, keys []monitoring.RoutingKey) (supervisor.Stream, error) {
		sub, err := dialer.Subscribe(ctx, address, keys)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}

	var (
		sups  []*supervisor.Supervisor
		tasks []supervisor.Task
	)
	for _, src := range cfg.Sources() {
		registry, err := metrics.NewRegistry(m, src.Monitor)
		if err != nil {
			return err
		}
		s := supervisor.New(supervisor.Source{BrokerAddress: src.BrokerAddress, Monitor: src.Monitor}, supervisor.Deps{
			Subscribe:  subscribe,
			Dispatcher: dispatch.New(resolver, gwSet, registry, logger),
			DiskLogDir: cfg.DiskLoggingDirectory,
			Archive:    archiver,
			Backoff:    cfg.ReconnectBackoff,
			Logger:     logger,
		})
		sups = append(sups, s)
		tasks = append(tasks, s)
	}

	startedAt := time.Now()
	status := func() api.Status {
		st := api.Status{
			StartedAt: startedAt,
			Uptime:    time.Since(startedAt).Round(time.Second).String(),
			Gateways:  gwSet.Len(),
		}
		for _, s := range sups {
			st.Sources = append(st.Sources, api.SourceStatus{
				Monitor:       s.Source().Monitor,
				BrokerAddress: broker.Redact(s.Source().BrokerAddress),
				Iterations:    s.Iterations(),
				Events:        s.Events(),
			})
		}
		return st
	}

	srv := api.NewServer(cfg.PrometheusAddress, reg, status, logger)
	if _, err := srv.Start(); err != nil {
		return err
	}

	if cfg.StatusInterval > 0 {
		gauges, err := telemetry.NewGauges(reg)
		if err != nil {
			return err
		}
		telemetry.NewReporter(cfg.StatusInterval, status, gauges, cfg.StatusExportPath, logger).Start(ctx)
	}

	if err := supervisor.NewCoordinator(logger).Run(ctx, tasks); err != nil {
		logger.Error("monitoring stopped", zap.Error(err))
	}

	if queue != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), archive.DrainTimeout)
		if err := queue.Shutdown(drainCtx); err != nil {
			logger.Warn("archive uploads left unfinished", zap.Error(err))
		}
		drainCancel()
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
