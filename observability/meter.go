package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/iceflow/logger"
)

// InitMeter initializes the OpenTelemetry meter provider and installs it
// globally. The provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg *Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Get("observability").Info("meter initialized", logger.Fields(
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Call outcomes recorded by BridgeMetrics.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeDead     = "dead"
	OutcomeRejected = "rejected"
)

// BridgeMetrics holds the instruments recorded around bridge traffic and
// worker lifecycle.
type BridgeMetrics struct {
	callTotal    metric.Int64Counter
	callDuration metric.Float64Histogram
	callActive   metric.Int64UpDownCounter
	eventTotal   metric.Int64Counter
	spawnTotal   metric.Int64Counter
	teardowns    metric.Int64Counter
}

// NewBridgeMetrics creates the bridge instruments on meter.
func NewBridgeMetrics(meter metric.Meter) (*BridgeMetrics, error) {
	callTotal, err := meter.Int64Counter("iceflow.bridge.calls",
		metric.WithDescription("Bridge calls by method and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.bridge.calls counter: %w", err)
	}

	callDuration, err := meter.Float64Histogram("iceflow.bridge.call.duration",
		metric.WithDescription("Bridge call round trip time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.bridge.call.duration histogram: %w", err)
	}

	callActive, err := meter.Int64UpDownCounter("iceflow.bridge.calls.active",
		metric.WithDescription("Bridge calls awaiting a response"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.bridge.calls.active counter: %w", err)
	}

	eventTotal, err := meter.Int64Counter("iceflow.bridge.events",
		metric.WithDescription("Events received from workers by method"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.bridge.events counter: %w", err)
	}

	spawnTotal, err := meter.Int64Counter("iceflow.worker.spawns",
		metric.WithDescription("Worker spawn attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.worker.spawns counter: %w", err)
	}

	teardowns, err := meter.Int64Counter("iceflow.worker.teardowns",
		metric.WithDescription("Forced worker teardowns by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iceflow.worker.teardowns counter: %w", err)
	}

	return &BridgeMetrics{
		callTotal:    callTotal,
		callDuration: callDuration,
		callActive:   callActive,
		eventTotal:   eventTotal,
		spawnTotal:   spawnTotal,
		teardowns:    teardowns,
	}, nil
}

// RecordCallStart increments the in-flight call count.
func (m *BridgeMetrics) RecordCallStart(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.callActive.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrMethod, method)))
}

// RecordCallEnd decrements in-flight calls and records the finished call.
func (m *BridgeMetrics) RecordCallEnd(ctx context.Context, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrMethod, method)))
	m.callTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrOutcome, outcome),
	))
	m.callDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrMethod, method)))
}

// RecordEvent counts an inbound event.
func (m *BridgeMetrics) RecordEvent(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.eventTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrMethod, method)))
}

// RecordSpawn counts a spawn attempt.
func (m *BridgeMetrics) RecordSpawn(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.spawnTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}

// RecordTeardown counts a forced teardown.
func (m *BridgeMetrics) RecordTeardown(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.teardowns.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
