package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pillhelper/providers"

type requestMetrics struct {
	count    metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *requestMetrics
)

// Instruments come from the global meter, which forwards to the provider
// installed by Setup even when created before it.
func globalMetrics() *requestMetrics {
	metricsOnce.Do(func() {
		m, err := newRequestMetrics(otel.Meter(meterName))
		if err == nil {
			metrics = m
		}
	})
	return metrics
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	count, err := meter.Int64Counter(
		"ai.provider.request.count",
		metric.WithDescription("Number of upstream AI requests"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"ai.provider.request.duration",
		metric.WithDescription("Upstream AI request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	errCount, err := meter.Int64Counter(
		"ai.provider.request.errors",
		metric.WithDescription("Number of upstream AI request errors"),
	)
	if err != nil {
		return nil, err
	}
	return &requestMetrics{count: count, duration: duration, errors: errCount}, nil
}

// RecordRequest records one upstream call. statusCode 0 means no HTTP response was received.
func RecordRequest(ctx context.Context, provider, model string, statusCode int, duration time.Duration, err error) {
	if m := globalMetrics(); m != nil {
		m.record(ctx, provider, model, statusCode, duration, err)
	}
}

func (m *requestMetrics) record(ctx context.Context, provider, model string, statusCode int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", provider),
		attribute.String("ai.model", model),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	m.count.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.duration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
