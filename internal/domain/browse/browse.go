// Package browse implements the per-screen fetch orchestrators of the
// storefront: it decides between the remote catalog and the local cache,
// writes remote reads back to the cache, and publishes a three-state Result.
package browse

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// User-facing error messages.
const (
	MsgNoCategories     = "No categories available"
	MsgFetchList        = "Unable to fetch list"
	MsgFetchDetails     = "Error fetching details"
	MsgCacheUnavailable = "Unable to read cached catalog"
	MsgCancelled        = "Request cancelled"
)

// DefaultSampleSize is the number of products shown per category on the
// home screen.
const DefaultSampleSize = 3

// Config holds non-dependency settings shared by the orchestrators.
type Config struct {
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	// SampleSize caps products per category on the home screen.
	SampleSize int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = noop.NewMeterProvider()
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	return c
}

// Source labels where a load read its data from.
const (
	sourceRemote = "remote"
	sourceCache  = "cache"
)

type metrics struct {
	loads    metric.Int64Counter
	absorbed metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) metrics {
	meter := mp.Meter("github.com/xenking/storefront/internal/domain/browse")
	// Instrument creation only fails on invalid names.
	loads, err := meter.Int64Counter("storefront.browse.loads",
		metric.WithDescription("Completed screen loads by screen, source and state"),
	)
	if err != nil {
		loads, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	absorbed, err := meter.Int64Counter("storefront.browse.absorbed_failures",
		metric.WithDescription("Per-category failures absorbed as empty product lists"),
	)
	if err != nil {
		absorbed, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	return metrics{loads: loads, absorbed: absorbed}
}

func sourceOf(online bool) string {
	if online {
		return sourceRemote
	}
	return sourceCache
}

func loadAttrs(screen, source string, state State) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("screen", screen),
		attribute.String("source", source),
		attribute.String("state", state.String()),
	)
}
