package images

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ebpay-ops/alert-router/alert"
)

func testAlert(source, generatorURL string, labels map[string]string) *alert.Alert {
	a := &alert.Alert{
		Status:       alert.StatusFiring,
		Labels:       alert.KV{alert.SourceLabel: source},
		Annotations:  alert.KV{},
		GeneratorURL: generatorURL,
	}
	for k, v := range labels {
		a.Labels[k] = v
	}
	return a
}

func TestExtractQueries(t *testing.T) {
	cases := []struct {
		name     string
		source   string
		url      string
		expected []string
		errLike  error
	}{
		{
			name:     "prometheus g0.expr",
			source:   alert.SourcePrometheus,
			url:      "http://prom:9090/graph?g0.expr=up&g0.tab=1",
			expected: []string{"up"},
		},
		{
			name:     "prometheus overlays in index order",
			source:   alert.SourcePrometheus,
			url:      "http://prom:9090/graph?g1.expr=second&g0.expr=first",
			expected: []string{"first", "second"},
		},
		{
			name:     "prometheus url-encoded expression",
			source:   alert.SourcePrometheus,
			url:      "http://prom:9090/graph?g0.expr=rate%28http_requests_total%7Bjob%3D%22api%22%7D%5B5m%5D%29",
			expected: []string{`rate(http_requests_total{job="api"}[5m])`},
		},
		{
			name:    "prometheus without g0.expr",
			source:  alert.SourcePrometheus,
			url:     "http://prom:9090/graph?g0.tab=1",
			errLike: ErrNoQuery,
		},
		{
			name:     "grafana query parameter",
			source:   alert.SourceGrafana,
			url:      "http://grafana:3000/alerting/list?query=up",
			expected: []string{"up"},
		},
		{
			name:     "grafana expr parameter",
			source:   alert.SourceGrafana,
			url:      "http://grafana:3000/alerting/list?expr=up",
			expected: []string{"up"},
		},
		{
			name:     "grafana g0.expr fallback",
			source:   alert.SourceGrafana,
			url:      "http://grafana:3000/alerting/list?g0.expr=up",
			expected: []string{"up"},
		},
		{
			name:     "grafana query beats expr",
			source:   alert.SourceGrafana,
			url:      "http://grafana:3000/alerting/list?expr=second&query=first",
			expected: []string{"first"},
		},
		{
			name:    "grafana without expression",
			source:  alert.SourceGrafana,
			url:     "http://grafana:3000/alerting/grafana/abcd/view",
			errLike: ErrNoQuery,
		},
		{
			name:    "relative generator url",
			source:  alert.SourcePrometheus,
			url:     "/graph?g0.expr=up",
			errLike: ErrNoQuery,
		},
		{
			name:    "empty generator url",
			source:  alert.SourcePrometheus,
			url:     "",
			errLike: ErrNoQuery,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exprs, err := extractQueries(testAlert(tc.source, tc.url, nil))
			if tc.errLike != nil {
				require.ErrorIs(t, err, tc.errLike)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, exprs)
		})
	}
}
