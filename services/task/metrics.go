package task

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "taskdesk/services/task"

type serviceMetrics struct {
	transitions metric.Int64Counter
	scanResults metric.Int64Counter
	sweep       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) *serviceMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			zap.L().Warn("failed to create counter", zap.String("name", name), zap.Error(err))
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return &serviceMetrics{
		transitions: counter("taskdesk.task.transitions", "Committed task operations by operation and resulting status."),
		scanResults: counter("taskdesk.recurrence.scan.results", "Recurrence scan results by outcome."),
		sweep:       counter("taskdesk.recurrence.sweep", "Overdue sweep actions by kind."),
	}
}

func (m *serviceMetrics) transition(ctx context.Context, op Operation, status Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.String("status", string(status)),
	))
}

func (m *serviceMetrics) scanResult(ctx context.Context, o ScanOutcome) {
	m.scanResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
}

func (m *serviceMetrics) sweepAction(ctx context.Context, kind string) {
	m.sweep.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
