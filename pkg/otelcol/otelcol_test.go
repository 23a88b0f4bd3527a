package otelcol

import (
	"context"
	"testing"

	"taskdesk/pkg/config"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestProvideMetric(t *testing.T) {
	cfg := &config.Config{AppName: "taskdesk", AppEnv: "test"}
	reader := sdkmetric.NewManualReader()
	mp := ProvideMetric(reader, defaultMetricProviderOption(cfg)...)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	counter, err := mp.Meter("test").Int64Counter("requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.EqualValues(t, 3, sum.DataPoints[0].Value)

	name, ok := rm.Resource.Set().Value("service.name")
	require.True(t, ok)
	require.Equal(t, "taskdesk", name.AsString())
}
