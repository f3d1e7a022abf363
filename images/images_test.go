package images

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ebpay-ops/alert-router/alert"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	require.Equal(t, 30, cfg.LookbackMinutes)
	require.Equal(t, "1m", cfg.Step.String())
	require.Equal(t, 10, cfg.TimeoutSeconds)
	require.Equal(t, 10, cfg.MaxSeries)
	require.Equal(t, EnginePlotly, cfg.Render)
	require.Equal(t, 1280, cfg.Width)
	require.Equal(t, 640, cfg.Height)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, (&Config{}).Validate())
	require.NoError(t, (&Config{Render: EngineMatplotlib}).Validate())
	require.ErrorContains(t, (&Config{Render: "gnuplot"}).Validate(), "unknown render engine")
	require.ErrorContains(t, (&Config{PrometheusURL: "prom:9090"}).Validate(), "not an absolute URL")
}

func TestValidPNG(t *testing.T) {
	padded := append(append([]byte{}, pngMagic...), bytes.Repeat([]byte{0}, 200)...)
	require.True(t, validPNG(padded))
	require.False(t, validPNG(pngMagic), "short buffers are rejected")
	require.False(t, validPNG([]byte("<html>error</html>")))
	require.False(t, validPNG(append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0}, 200)...)), "jpeg magic is rejected")
}

func TestRender(t *testing.T) {
	for _, engine := range []string{EnginePlotly, EngineMatplotlib} {
		t.Run(engine+" produces a valid png", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(matrixBody(seriesJSON(`{"instance":"api-1"}`, 20, 1700000000))))
			}))
			defer srv.Close()

			p := NewProvider(Config{Enabled: true, PrometheusURL: srv.URL, Render: engine}, nil, nil, nil)
			a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph?g0.expr=cpu", map[string]string{"alertname": "HighCPU"})

			img, err := p.Render(context.Background(), a)
			require.NoError(t, err)
			require.True(t, validPNG(img), "expected a valid PNG, got %d bytes", len(img))
		})
	}

	t.Run("disabled config renders nothing", func(t *testing.T) {
		p := NewProvider(Config{}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph?g0.expr=cpu", nil)

		img, err := p.Render(context.Background(), a)
		require.NoError(t, err)
		require.Nil(t, img)
	})

	t.Run("empty result set renders nothing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(matrixBody()))
		}))
		defer srv.Close()

		p := NewProvider(Config{Enabled: true, PrometheusURL: srv.URL}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph?g0.expr=cpu", nil)

		img, err := p.Render(context.Background(), a)
		require.NoError(t, err)
		require.Nil(t, img)
	})

	t.Run("backend failure is soft", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := NewProvider(Config{Enabled: true, PrometheusURL: srv.URL}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph?g0.expr=cpu", nil)

		img, err := p.Render(context.Background(), a)
		require.ErrorIs(t, err, ErrQueryFailed)
		require.Nil(t, img)
	})

	t.Run("missing expression fails with no query", func(t *testing.T) {
		p := NewProvider(Config{Enabled: true, PrometheusURL: "http://prom:9090"}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph", nil)

		img, err := p.Render(context.Background(), a)
		require.ErrorIs(t, err, ErrNoQuery)
		require.Nil(t, img)
	})

	t.Run("falls back to the generator url authority", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			require.Equal(t, "/api/v1/query_range", r.URL.Path)
			_, _ = w.Write([]byte(matrixBody(seriesJSON(`{"instance":"api-1"}`, 5, 1700000000))))
		}))
		defer srv.Close()

		p := NewProvider(Config{Enabled: true}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, srv.URL+"/graph?g0.expr=cpu", nil)

		img, err := p.Render(context.Background(), a)
		require.NoError(t, err)
		require.True(t, validPNG(img))
		require.Equal(t, 1, hits)
	})

	t.Run("queries every overlay expression", func(t *testing.T) {
		var exprs []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exprs = append(exprs, r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(matrixBody(seriesJSON(`{"instance":"api-1"}`, 5, 1700000000))))
		}))
		defer srv.Close()

		p := NewProvider(Config{Enabled: true, PrometheusURL: srv.URL}, nil, nil, nil)
		a := testAlert(alert.SourcePrometheus, "http://prom:9090/graph?g0.expr=cpu&g1.expr=mem", nil)

		img, err := p.Render(context.Background(), a)
		require.NoError(t, err)
		require.True(t, validPNG(img))
		require.Equal(t, []string{"cpu", "mem"}, exprs)
	})
}
