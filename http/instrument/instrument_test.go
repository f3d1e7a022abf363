package instrument

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubRequester struct {
	resp *http.Response
	err  error
}

func (s stubRequester) Do(_ *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newTestCollector(t *testing.T) (*prometheus.Registry, instrument.Collector) {
	t.Helper()
	reg := prometheus.NewRegistry()
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "client_request_duration_seconds",
	}, instrument.HistogramCollectorBuckets)
	require.NoError(t, reg.Register(vec))
	return reg, instrument.NewHistogramCollector(vec)
}

func observedLabels(t *testing.T, reg *prometheus.Registry) map[string]string {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Len(t, mfs[0].GetMetric(), 1)

	labels := map[string]string{}
	for _, lp := range mfs[0].GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func TestTimedClient(t *testing.T) {
	t.Run("labels observation with method, path and status code", func(t *testing.T) {
		reg, coll := newTestCollector(t)
		timed := NewTimedClient(stubRequester{resp: &http.Response{StatusCode: 201}}, coll)
		req := httptest.NewRequest(http.MethodPost, "http://loki.local/loki/api/v1/push", nil)

		resp, err := timed.Do(req)

		require.NoError(t, err)
		require.Equal(t, 201, resp.StatusCode)
		labels := observedLabels(t, reg)
		require.Equal(t, "POST /loki/api/v1/push", labels["operation"])
		require.Equal(t, "201", labels["status_code"])
	})

	t.Run("operation name from context wins over path", func(t *testing.T) {
		reg, coll := newTestCollector(t)
		timed := NewTimedClient(stubRequester{resp: &http.Response{StatusCode: 200}}, coll)
		req := httptest.NewRequest(http.MethodGet, "http://loki.local/loki/api/v1/labels", nil)
		req = req.WithContext(OperationName(req.Context(), "ping"))

		_, err := timed.Do(req)

		require.NoError(t, err)
		labels := observedLabels(t, reg)
		require.Equal(t, "GET ping", labels["operation"])
	})

	t.Run("transport errors observed with error status", func(t *testing.T) {
		reg, coll := newTestCollector(t)
		timed := NewTimedClient(stubRequester{err: errors.New("connection refused")}, coll)
		req := httptest.NewRequest(http.MethodGet, "http://loki.local/loki/api/v1/labels", nil)

		_, err := timed.Do(req)

		require.ErrorContains(t, err, "connection refused")
		labels := observedLabels(t, reg)
		require.Equal(t, "error", labels["status_code"])
	})
}

func TestTracedClient(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")

	t.Run("passes response through", func(t *testing.T) {
		traced := NewTracedClient(stubRequester{resp: &http.Response{StatusCode: 200}}, tracer, "loki")
		req := httptest.NewRequest(http.MethodGet, "http://loki.local/loki/api/v1/labels", nil)

		resp, err := traced.Do(req)

		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
	})

	t.Run("propagates errors", func(t *testing.T) {
		traced := NewTracedClient(stubRequester{err: errors.New("dial tcp: timeout")}, tracer, "loki")
		req := httptest.NewRequest(http.MethodGet, "http://loki.local/loki/api/v1/labels", nil)

		_, err := traced.Do(req)

		require.ErrorContains(t, err, "dial tcp")
	})
}
