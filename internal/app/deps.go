package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/fakestore"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/sqlite"
)

// OpenCache opens the configured cache store and applies its schema.
func OpenCache(ctx context.Context, cfg CacheConfig, lg *zap.Logger) (catalog.Cache, error) {
	switch cfg.Driver {
	case DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path, lg)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite cache")
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres cache")
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// NewRemote creates the catalog client.
func NewRemote(cfg CatalogConfig, lg *zap.Logger, tp trace.TracerProvider) (*fakestore.Client, error) {
	c, err := fakestore.New(fakestore.Options{
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		UserAgent:      cfg.UserAgent,
		Debug:          cfg.Debug,
		Logger:         lg.Named("catalog"),
		TracerProvider: tp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create catalog client")
	}
	return c, nil
}

// NewOracle creates the connectivity oracle of mode. The returned Monitor is
// non-nil in probe mode and must be run by the caller.
func NewOracle(cfg ConnectivityConfig, baseURL string, lg *zap.Logger) (connectivity.Oracle, *connectivity.Monitor, error) {
	switch cfg.Mode {
	case ModeOnline:
		return connectivity.Static(true), nil, nil
	case ModeOffline:
		return connectivity.Static(false), nil, nil
	}

	target := cfg.Target
	if target == "" {
		addr, err := connectivity.AddrFromURL(baseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "derive probe target")
		}
		target = addr
	}

	switch cfg.Mode {
	case ModeDial:
		return connectivity.Dial{Addr: target, Timeout: cfg.Timeout}, nil, nil
	case ModeProbe:
		m := connectivity.NewMonitor(target, cfg.Timeout, cfg.Failures, lg.Named("connectivity"))
		return m, m, nil
	default:
		return nil, nil, errors.Errorf("unknown connectivity mode %q", cfg.Mode)
	}
}
