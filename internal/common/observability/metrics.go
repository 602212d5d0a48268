// Package observability wires the OpenTelemetry meter to the Prometheus registry
// served on /metrics.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records request-level billing metrics through OTel.
type Observability struct {
	meterProvider  *metric.MeterProvider
	requestCounter otelmetric.Int64Counter
	requestLatency otelmetric.Float64Histogram
}

// New registers the exporter with the default Prometheus registry. On failure the
// returned value records nothing.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return &Observability{}, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	requestCounter, err := meter.Int64Counter(
		"billing.requests",
		otelmetric.WithDescription("Billing API requests handled"),
	)
	if err != nil {
		return &Observability{meterProvider: provider}, err
	}

	requestLatency, err := meter.Float64Histogram(
		"billing.request.duration",
		otelmetric.WithDescription("Billing API request duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return &Observability{meterProvider: provider}, err
	}

	return &Observability{
		meterProvider:  provider,
		requestCounter: requestCounter,
		requestLatency: requestLatency,
	}, nil
}

// RecordRequest counts one handled request and its latency.
func (o *Observability) RecordRequest(ctx context.Context, route string, status int, d time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	if o.requestCounter != nil {
		o.requestCounter.Add(ctx, 1, attrs)
	}
	if o.requestLatency != nil {
		o.requestLatency.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
