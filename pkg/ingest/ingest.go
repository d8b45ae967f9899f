package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/types"
)

const (
	DefaultMetricsInterval  = 10 * time.Second
	DefaultForecastInterval = time.Hour
)

// MetricsSampler takes one host metrics reading.
type MetricsSampler interface {
	Sample(ctx context.Context) (types.MetricsSample, error)
}

// PriceFetcher returns the current price window.
type PriceFetcher interface {
	Fetch(ctx context.Context) ([]types.PriceSample, error)
}

// SolarFetcher returns the predicted solar output.
type SolarFetcher interface {
	Fetch(ctx context.Context) ([]types.SolarSample, error)
}

// MetricsPublisher receives every metrics sample taken.
type MetricsPublisher interface {
	PublishMetrics(m types.MetricsSample)
}

// Ingester runs the loops that sample metrics and fetch prices and solar
// forecasts into the store.
type Ingester struct {
	store   *storage.Store
	sampler MetricsSampler
	prices  PriceFetcher
	solar   SolarFetcher
	bus     MetricsPublisher

	metricsInterval  time.Duration
	forecastInterval time.Duration
}

// New returns an Ingester. Any of sampler, prices or solar may be nil to skip
// that source.
func New(store *storage.Store, sampler MetricsSampler, prices PriceFetcher, solar SolarFetcher, bus MetricsPublisher) *Ingester {
	return &Ingester{
		store:            store,
		sampler:          sampler,
		prices:           prices,
		solar:            solar,
		bus:              bus,
		metricsInterval:  DefaultMetricsInterval,
		forecastInterval: DefaultForecastInterval,
	}
}

// Configured returns an Ingester with intervals from flags.
func Configured(store *storage.Store, sampler MetricsSampler, prices PriceFetcher, solar SolarFetcher, bus MetricsPublisher) *Ingester {
	metricsInterval := lflag.Duration("metrics-interval", DefaultMetricsInterval, "How often to sample host metrics")
	forecastInterval := lflag.Duration("forecast-interval", DefaultForecastInterval, "How often to fetch prices and the solar forecast")

	i := New(store, sampler, prices, solar, bus)

	lflag.Do(func() {
		if *metricsInterval <= 0 {
			panic("metrics-interval must be positive")
		}
		if *forecastInterval <= 0 {
			panic("forecast-interval must be positive")
		}
		i.metricsInterval = *metricsInterval
		i.forecastInterval = *forecastInterval
	})

	return i
}

// SampleMetrics takes one metrics sample, publishes it and stores it.
func (i *Ingester) SampleMetrics(ctx context.Context) error {
	m, err := i.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("failed to sample metrics: %w", err)
	}
	if i.bus != nil {
		i.bus.PublishMetrics(m)
	}
	if _, err := i.store.Metrics.Append(ctx, m); err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"stored metrics sample",
		slog.Float64("cpuPercent", m.CPUPercent),
		slog.Float64("memoryPercent", m.MemoryPercent),
		slog.Float64("diskPercent", m.DiskPercent),
	)
	return nil
}

// IngestPrices fetches the price window and stores it, returning how many
// prices were new.
func (i *Ingester) IngestPrices(ctx context.Context) (int, error) {
	prices, err := i.prices.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch prices: %w", err)
	}
	added, err := i.store.Prices.AppendAll(ctx, prices)
	if err != nil {
		return added, err
	}
	log.Ctx(ctx).InfoContext(ctx, "stored prices", slog.Int("fetched", len(prices)), slog.Int("new", added))
	return added, nil
}

// IngestSolar fetches the solar forecast and stores it, returning how many
// samples were new.
func (i *Ingester) IngestSolar(ctx context.Context) (int, error) {
	samples, err := i.solar.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch solar forecast: %w", err)
	}
	added, err := i.store.Solar.AppendAll(ctx, samples)
	if err != nil {
		return added, err
	}
	log.Ctx(ctx).InfoContext(ctx, "stored solar forecast", slog.Int("fetched", len(samples)), slog.Int("new", added))
	return added, nil
}

// RunMetrics samples metrics every interval until ctx is done.
func (i *Ingester) RunMetrics(ctx context.Context) error {
	ctx = log.WithLoop(ctx, "metrics")
	return common.RunEvery(ctx, i.metricsInterval, func(ctx context.Context) {
		if err := i.SampleMetrics(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "metrics sample failed", slog.Any("error", err))
		}
	})
}

// RunForecasts fetches prices and the solar forecast every interval until ctx
// is done. A failure in one doesn't skip the other.
func (i *Ingester) RunForecasts(ctx context.Context) error {
	ctx = log.WithLoop(ctx, "forecasts")
	return common.RunEvery(ctx, i.forecastInterval, func(ctx context.Context) {
		if i.prices != nil {
			if _, err := i.IngestPrices(ctx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "price ingestion failed", slog.Any("error", err))
			}
		}
		if i.solar != nil {
			if _, err := i.IngestSolar(ctx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "solar ingestion failed", slog.Any("error", err))
			}
		}
	})
}
