package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/frc-grafana/nt-bridge/internal/bridge"
	"github.com/frc-grafana/nt-bridge/internal/bus"
	"github.com/frc-grafana/nt-bridge/internal/config"
	"github.com/frc-grafana/nt-bridge/internal/connection"
	"github.com/frc-grafana/nt-bridge/internal/entry"
	"github.com/frc-grafana/nt-bridge/internal/metrics"
	"github.com/frc-grafana/nt-bridge/internal/nt"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

func runBridge(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting nt-bridge",
		"version", version,
		"address", cfg.Source.Address,
		"transport", cfg.Transport.Type,
		"interval", cfg.Bridge.TickInterval,
	)
	if cfg.IsDevelopment() {
		log.Debug("Effective configuration",
			"source", fmt.Sprintf("%+v", cfg.Source),
			"transport", fmt.Sprintf("%+v", cfg.Transport),
			"bridge", fmt.Sprintf("%+v", cfg.Bridge),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := connection.Connect(ctx, sourceDialer(cfg.Source, log), connection.Config{
		Address:          cfg.Source.Address,
		ClientID:         cfg.Source.ClientID,
		ReconnectTimeout: cfg.Source.ReconnectTimeout,
		Backoff: connection.Backoff{
			Initial: cfg.Source.Backoff.Initial,
			Max:     cfg.Source.Backoff.Max,
			Jitter:  cfg.Source.Backoff.Jitter,
		},
	}, log)
	if err != nil {
		return err
	}
	defer mgr.Close()

	innerBus, err := bus.NewBus(cfg.Transport, log)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	metricsSvc := metrics.New()
	eventBus := bus.NewInstrumentedBus(bus.NewLoggedBus(innerBus, log), metricsSvc)
	defer eventBus.Close()

	qos, retain := bus.MessageOptions(cfg.Transport)
	br := bridge.New(bridge.Config{
		TickInterval:     cfg.Bridge.TickInterval,
		PublishRateLimit: cfg.Bridge.PublishRateLimit,
		QoS:              qos,
		Retain:           retain,
	}, mgr, eventBus, metricsSvc, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eventBus.Run(gctx) })
	g.Go(func() error { return br.Run(gctx) })

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, metricsSvc)
		g.Go(func() error {
			log.Info("Starting metrics server", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Metrics.StatusInterval > 0 {
		g.Go(func() error {
			reportStatus(gctx, cfg.Metrics.StatusInterval, mgr, br, log)
			return nil
		})
	}

	err = g.Wait()
	log.Info("nt-bridge stopped", "stats", fmt.Sprintf("%+v", br.Stats()))
	return err
}

// applyFlags overrides configuration with the flags the user actually set.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("address") {
		cfg.Source.Address, _ = flags.GetString("address")
	}
	if flags.Changed("host") {
		cfg.Transport.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Transport.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("transport") {
		cfg.Transport.Type, _ = flags.GetString("transport")
	}
	if flags.Changed("interval") {
		cfg.Bridge.TickInterval, _ = flags.GetDuration("interval")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address, _ = flags.GetString("metrics-addr")
		cfg.Metrics.Enabled = cfg.Metrics.Address != ""
	}
}

// sourceDialer opens NT sessions and logs entry changes at debug level.
func sourceDialer(cfg config.SourceConfig, log *logger.Logger) connection.Dialer {
	entryLog := log.WithComponent("entries")
	return func(ctx context.Context, address, clientID string) (connection.Source, error) {
		client, err := nt.DialConfig(ctx, nt.Config{
			Address:     address,
			ClientID:    clientID,
			DialTimeout: cfg.DialTimeout,
			KeepAlive:   cfg.KeepAlive,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}

		for _, kind := range []entry.ChangeKind{entry.Added, entry.Updated} {
			client.AddEntryCallback(kind, func(e entry.Entry) {
				entryLog.Debug("entry changed", "entry", e.String())
			})
		}
		return client, nil
	}
}

// reportStatus logs connectivity and publish totals every interval.
func reportStatus(ctx context.Context, interval time.Duration, mgr *connection.Manager, br *bridge.Bridge, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := br.Stats()
			log.Info("status",
				"source", mgr.Status().String(),
				"state", mgr.State().String(),
				"ticks", stats.Ticks,
				"published", stats.Published,
				"failed", stats.Failed,
				"skipped", stats.Skipped,
			)
		}
	}
}
