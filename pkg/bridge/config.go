package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"presagebridge/pkg/config"
	"presagebridge/pkg/metrics"
	"presagebridge/pkg/normalize"
	"presagebridge/pkg/session"
	"presagebridge/pkg/session/signalcli"
	"presagebridge/pkg/store"
)

// OptionsFromConfig validates cfg and wires the signal-cli library and the
// on-disk store into runtime options.
func OptionsFromConfig(cfg *config.Config, log *slog.Logger, bridgeMetrics *metrics.Bridge) (Options, error) {
	environment, err := session.ParseServerEnvironment(cfg.Bridge.ServerEnvironment)
	if err != nil {
		return Options{}, fmt.Errorf("bridge.server_environment: %w", err)
	}
	naming, err := normalize.ParseGroupNaming(cfg.Bridge.GroupNaming)
	if err != nil {
		return Options{}, fmt.Errorf("bridge.group_naming: %w", err)
	}
	migration, err := store.ParseMigration(cfg.Store.Migration)
	if err != nil {
		return Options{}, fmt.Errorf("store.migration: %w", err)
	}

	library := signalcli.New(signalcli.Options{
		Network:     cfg.SignalCLI.Network,
		Address:     cfg.SignalCLI.Address,
		Environment: environment,
		DialTimeout: time.Duration(cfg.SignalCLI.DialTimeoutSeconds) * time.Second,
		Logger:      log,
	})

	return Options{
		Library:       library,
		OpenStore:     configuredStoreOpener(cfg.Store, migration, log),
		QueueCapacity: cfg.Bridge.QueueCapacity,
		Normalize: normalize.Options{
			ContactNames: cfg.Bridge.ShowContactNames(),
			GroupNaming:  naming,
		},
		Logger:        log,
		Metrics:       bridgeMetrics,
		ObserveEvents: true,
	}, nil
}

// configuredStoreOpener resolves the passphrase at open time so a rotated
// environment value applies to the next session.
func configuredStoreOpener(cfg config.StoreConfig, migration store.Migration, log *slog.Logger) StoreOpener {
	return func(ctx context.Context, path string) (session.Store, error) {
		return store.Open(ctx, path, store.Options{
			Passphrase: cfg.Passphrase(),
			Migration:  migration,
			Logger:     log,
		})
	}
}
