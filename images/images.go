package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/model"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/http/instrument"
	"github.com/ebpay-ops/alert-router/templates"
)

var (
	// ErrNoQuery means the generator URL carries no recognizable query
	// expression for the alert's producer.
	ErrNoQuery = errors.New("no query expression in generator URL")

	// ErrQueryFailed covers transport, status and decode failures against
	// the metrics backend, timeouts included.
	ErrQueryFailed = errors.New("range query failed")

	// ErrInvalidImage means the render engine produced bytes that do not
	// pass the PNG gate.
	ErrInvalidImage = errors.New("rendered bytes are not a valid PNG")

	// ErrImageTooLarge means the encoded chart is bigger than photo upload
	// endpoints accept.
	ErrImageTooLarge = errors.New("rendered chart exceeds upload limit")
)

// maxChartBytes caps the encoded chart. Bot photo endpoints reject uploads
// past 10 MiB, so a bigger chart could never be delivered anyway.
const maxChartBytes = 10 << 20

// Engine names accepted by the render config key.
const (
	EnginePlotly     = "plotly"
	EngineMatplotlib = "matplotlib"
)

const (
	defaultLookbackMinutes = 30
	defaultStep            = time.Minute
	defaultTimeoutSeconds  = 10
	defaultMaxSeries       = 10
	defaultWidth           = 1280
	defaultHeight          = 640
)

// Config holds one producer's trend-chart settings.
type Config struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	PrometheusURL   string         `yaml:"prometheus_url" json:"prometheus_url"`
	LookbackMinutes int            `yaml:"lookback_minutes" json:"lookback_minutes"`
	Step            model.Duration `yaml:"step" json:"step"`
	TimeoutSeconds  int            `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxSeries       int            `yaml:"max_series" json:"max_series"`
	Render          string         `yaml:"render" json:"render"`
	Width           int            `yaml:"width" json:"width"`
	Height          int            `yaml:"height" json:"height"`
}

// ApplyDefaults fills the zero values of optional keys.
func (c *Config) ApplyDefaults() {
	if c.LookbackMinutes <= 0 {
		c.LookbackMinutes = defaultLookbackMinutes
	}
	if c.Step <= 0 {
		c.Step = model.Duration(defaultStep)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.MaxSeries <= 0 {
		c.MaxSeries = defaultMaxSeries
	}
	if c.Render == "" {
		c.Render = EnginePlotly
	}
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
}

func (c *Config) Validate() error {
	switch c.Render {
	case "", EnginePlotly, EngineMatplotlib:
	default:
		return fmt.Errorf("unknown render engine %q, must be %q or %q", c.Render, EnginePlotly, EngineMatplotlib)
	}
	if c.PrometheusURL != "" {
		u, err := url.Parse(c.PrometheusURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("prometheus_url %q is not an absolute URL", c.PrometheusURL)
		}
	}
	return nil
}

// Provider renders a PNG trend chart for an alert by extracting the query
// expression from its generator URL and range-querying the metrics backend.
type Provider struct {
	cfg    Config
	client instrument.Requester
	log    log.Logger
	clock  clock.Clock
}

func NewProvider(cfg Config, client instrument.Requester, logger log.Logger, clk clock.Clock) *Provider {
	cfg.ApplyDefaults()
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Provider{cfg: cfg, client: client, log: logger, clock: clk}
}

// Enabled reports whether this producer's chart pipeline is switched on.
func (p *Provider) Enabled() bool {
	return p.cfg.Enabled
}

// Render produces PNG bytes for the alert's trend, or nil when there is
// nothing to draw. Every returned buffer passes the PNG gate. All failures
// are soft; the caller delivers text-only.
func (p *Provider) Render(ctx context.Context, a *alert.Alert) ([]byte, error) {
	if !p.cfg.Enabled {
		return nil, nil
	}

	exprs, err := extractQueries(a)
	if err != nil {
		return nil, err
	}
	base, err := p.baseURL(a.GeneratorURL)
	if err != nil {
		return nil, err
	}

	end := p.clock.Now().UTC()
	start := end.Add(-time.Duration(p.cfg.LookbackMinutes) * time.Minute)

	var series model.Matrix
	for _, expr := range exprs {
		m, err := p.rangeQuery(ctx, base, expr, start, end)
		if err != nil {
			return nil, err
		}
		series = append(series, m...)
	}

	series = filterByAlertLabels(series, a.Labels, p.log)
	if len(series) > p.cfg.MaxSeries {
		level.Debug(p.log).Log("msg", "Truncating chart series", "total", len(series), "max", p.cfg.MaxSeries)
		series = series[:p.cfg.MaxSeries]
	}

	img, err := p.draw(series, a)
	if err != nil || img == nil {
		return nil, err
	}
	if !validPNG(img) {
		return nil, ErrInvalidImage
	}
	return img, nil
}

// baseURL resolves the query endpoint authority, preferring the configured
// backend over the one embedded in the generator URL.
func (p *Provider) baseURL(generatorURL string) (*url.URL, error) {
	raw := p.cfg.PrometheusURL
	if raw == "" {
		raw = generatorURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: no usable authority in %q", ErrQueryFailed, raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

func (p *Provider) draw(series model.Matrix, a *alert.Alert) ([]byte, error) {
	plottable := toChartSeries(series)
	if len(plottable) == 0 {
		level.Debug(p.log).Log("msg", "No plottable series, skipping chart", "alert", a.Name())
		return nil, nil
	}

	title := a.Name()
	if title == "" {
		title = "Alert Trend"
	}
	xlabel := templates.FormatCST(a.StartsAt)
	if xlabel == "" {
		xlabel = "Time (UTC+8)"
	}

	switch p.cfg.Render {
	case EngineMatplotlib:
		return renderPlot(plottable, title, xlabel, p.cfg.Width, p.cfg.Height)
	default:
		return renderChart(plottable, title, xlabel, p.cfg.Width, p.cfg.Height)
	}
}

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// validPNG gates chart output before it may travel to a photo API.
func validPNG(b []byte) bool {
	return len(b) >= 100 && bytes.HasPrefix(b, pngMagic)
}
