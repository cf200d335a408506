// Package telemetry exports recognition metrics through OpenTelemetry with a
// Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/sjawhar/doobs/internal/recognition"
)

const meterName = "github.com/sjawhar/doobs/internal/recognition"

// Telemetry counts recognition activity. It implements recognition.EventSink.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	logger   *slog.Logger

	sessions  metric.Int64Counter
	errors    metric.Int64Counter
	restarts  metric.Int64Counter
	words     metric.Int64Counter
	listening metric.Int64Gauge
}

// New builds a meter provider backed by its own Prometheus registry.
func New(serviceName string, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(meterName)

	t := &Telemetry{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:   logger.With(slog.String("component", "telemetry")),
	}

	if t.sessions, err = meter.Int64Counter("doobs.sessions.started",
		metric.WithDescription("Recognition sessions that reported a start")); err != nil {
		return nil, err
	}
	if t.errors, err = meter.Int64Counter("doobs.session.errors",
		metric.WithDescription("Recognition errors by code")); err != nil {
		return nil, err
	}
	if t.restarts, err = meter.Int64Counter("doobs.restarts.scheduled",
		metric.WithDescription("Automatic restarts scheduled after the session stopped on its own")); err != nil {
		return nil, err
	}
	if t.words, err = meter.Int64Counter("doobs.transcript.words",
		metric.WithDescription("Words committed to the transcript")); err != nil {
		return nil, err
	}
	if t.listening, err = meter.Int64Gauge("doobs.listening",
		metric.WithDescription("1 while the user wants the microphone open")); err != nil {
		return nil, err
	}

	t.logger.Info("telemetry initialized", slog.String("exporter", "prometheus"))
	return t, nil
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

func (t *Telemetry) SnapshotChanged(snapshot recognition.Snapshot) {
	var value int64
	if snapshot.Listening {
		value = 1
	}
	t.listening.Record(context.Background(), value)
}

func (t *Telemetry) Lifecycle(event recognition.LifecycleEvent) {
	ctx := context.Background()
	switch event.Kind {
	case recognition.LifecycleSessionStarted:
		t.sessions.Add(ctx, 1)
	case recognition.LifecycleError:
		t.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(event.Code))))
	case recognition.LifecycleStartFailed:
		t.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", "start_failed")))
	case recognition.LifecycleRestartExhausted:
		t.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", "restart_exhausted")))
	case recognition.LifecycleRestartScheduled:
		t.restarts.Add(ctx, 1)
	case recognition.LifecycleTranscriptCommitted:
		if event.Words > 0 {
			t.words.Add(ctx, int64(event.Words))
		}
	}
}
