package gpu

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for GPU switch operations.
type Metrics struct {
	switchesTotal  metric.Int64Counter
	switchDuration metric.Float64Histogram
}

// NewMetrics creates and registers GPU metrics instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	switchesTotal, err := meter.Int64Counter(
		"primed_gpu_switches_total",
		metric.WithDescription("Total number of GPU switch attempts"),
	)
	if err != nil {
		return nil, err
	}

	switchDuration, err := meter.Float64Histogram(
		"primed_gpu_switch_duration_seconds",
		metric.WithDescription("Time for the selector helper to complete a switch"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		switchesTotal:  switchesTotal,
		switchDuration: switchDuration,
	}, nil
}

var (
	metricsMu sync.RWMutex
	metrics   *Metrics
)

// SetMetrics installs the package metrics. Called once from main when
// telemetry is enabled; recording is a no-op until then.
func SetMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metrics = m
}

func recordSwitch(ctx context.Context, start time.Time, target GPU, ok bool) {
	metricsMu.RLock()
	m := metrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}

	status := "ok"
	if !ok {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("target", string(target)),
		attribute.String("status", status),
	)
	m.switchesTotal.Add(ctx, 1, attrs)
	m.switchDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}
