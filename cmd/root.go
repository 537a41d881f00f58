package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/config"
	"presagebridge/pkg/gateway"
	"presagebridge/pkg/host"
	"presagebridge/pkg/logger"
	"presagebridge/pkg/metrics"
	"presagebridge/pkg/record"
)

var storePath string

var rootCmd = &cobra.Command{
	Use:           "presagebridge",
	Short:         "Drive a linked secure-messaging device from the command line",
	Long:          "Links this machine as a secondary device, reports the account identity and streams incoming messages through a signal-cli daemon.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "session store directory (overrides store.path)")
}

// app is everything a subcommand needs, resolved from config once.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Bridge

	// statusAddr serves health, readiness and metrics while a session runs.
	statusAddr string
}

func loadApp(component string) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	appLogger, err := logger.Install(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	bridgeMetrics := metrics.New(registry)
	if err := bridgeMetrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &app{
		cfg:        cfg,
		log:        appLogger.With("component", component),
		registry:   registry,
		metrics:    bridgeMetrics,
		statusAddr: cfg.Metrics.Address,
	}, nil
}

// withSession runs fn against a freshly opened session and tears the
// runtime down afterwards.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, attached *host.Attached) error) error {
	opts, err := bridge.OptionsFromConfig(a.cfg, slog.Default(), a.metrics)
	if err != nil {
		return err
	}

	rt := bridge.NewRuntime(opts)
	defer func() {
		if err := rt.Destroy(); err != nil {
			a.log.Warn("Runtime teardown failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.statusAddr != "" {
		status := gateway.NewService(a.statusAddr, a.registry, a.log)
		go func() {
			if err := status.Run(ctx, rt.Events()); err != nil {
				a.log.Error("Status server failed", "error", err)
			}
		}()
	}

	attached, err := host.Attach(ctx, rt, record.Account(a.cfg.Bridge.Account), a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = attached.Close() }()

	a.log.Debug("Session ready", "session", attached.Handle().String(), "store", a.cfg.Store.Path)
	return fn(ctx, attached)
}

// runner is the part of host.Attached the one-shot commands use.
type runner interface {
	Run(ctx context.Context, command bridge.Command, fn func(record.Event)) error
}
