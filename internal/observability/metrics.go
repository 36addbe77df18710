package observability

import (
	"context"

	promclient "github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds the instruments used across the service. The meter provider
// is backed by a Prometheus exporter; the registry is served on /metrics.
type Metrics struct {
	Registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	Redirects       metric.Int64Counter
	CacheLookups    metric.Int64Counter
	RateLimited     metric.Int64Counter
	ClicksPublished metric.Int64Counter
	ClicksDropped   metric.Int64Counter
	ClicksApplied   metric.Int64Counter
	ReapedMappings  metric.Int64Counter
	CreateLatency   metric.Float64Histogram
}

// NewMetrics builds the meter provider, registers it globally and creates
// all instruments.
func NewMetrics(ctx context.Context, serviceName string) (*Metrics, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter("github.com/flashlink/shortener")

	m := &Metrics{Registry: registry, provider: provider}

	if m.Redirects, err = meter.Int64Counter("shortener.redirects",
		metric.WithDescription("Redirect resolutions by outcome")); err != nil {
		return nil, err
	}
	if m.CacheLookups, err = meter.Int64Counter("shortener.cache.lookups",
		metric.WithDescription("Cache lookups by level and result")); err != nil {
		return nil, err
	}
	if m.RateLimited, err = meter.Int64Counter("shortener.rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter, by class")); err != nil {
		return nil, err
	}
	if m.ClicksPublished, err = meter.Int64Counter("shortener.clicks.published",
		metric.WithDescription("Click events handed to the queue")); err != nil {
		return nil, err
	}
	if m.ClicksDropped, err = meter.Int64Counter("shortener.clicks.dropped",
		metric.WithDescription("Click events dropped on publish buffer overflow")); err != nil {
		return nil, err
	}
	if m.ClicksApplied, err = meter.Int64Counter("shortener.clicks.applied",
		metric.WithDescription("Click events applied to the store by the aggregator")); err != nil {
		return nil, err
	}
	if m.ReapedMappings, err = meter.Int64Counter("shortener.reaped",
		metric.WithDescription("Mappings deactivated by the expiry reaper")); err != nil {
		return nil, err
	}
	if m.CreateLatency, err = meter.Float64Histogram("shortener.create.duration",
		metric.WithDescription("Short URL creation latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
