package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	server, _ := setupTestServer(t, WithMetrics(m))
	serve(server, http.MethodGet, "/health", "")
	serve(server, http.MethodPost, "/api/v1/calls/CA1/turns", `{"tenant_id":"acme_dental","input":"hi"}`)
	serve(server, http.MethodPost, "/api/v1/calls/CA2/turns", `{"input":"hi"}`)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "voxgov.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byKey := map[string]int64{}
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
					endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					byKey[endpoint.AsString()+" "+status.Emit()] += dp.Value
				}
				assert.Equal(t, int64(3), total)
				assert.Equal(t, int64(1), byKey["/api/v1/calls/:call_id/turns 200"])
				assert.Equal(t, int64(1), byKey["/api/v1/calls/:call_id/turns 400"])
			case "voxgov.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var count uint64
				for _, dp := range hist.DataPoints {
					count += dp.Count
				}
				assert.Equal(t, uint64(3), count)
			}
		}
	}
	assert.True(t, found["voxgov.http.requests_total"], "requests counter not found")
	assert.True(t, found["voxgov.http.request_duration_seconds"], "duration histogram not found")
	assert.True(t, found["voxgov.http.response_size_bytes"], "response size histogram not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/calls/:call_id/turns", "/api/v1/calls/:call_id/turns"},
		{"*", "unmatched"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}

func TestNewHTTPMetrics_GlobalMeter(t *testing.T) {
	m := NewHTTPMetrics(nil, nil)
	require.NotNil(t, m)
	assert.NotNil(t, m.requestsTotal)

	server, _ := setupTestServer(t, WithMetrics(m))
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
