package notify

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/dedup"
	"github.com/ebpay-ops/alert-router/historian"
	"github.com/ebpay-ops/alert-router/images"
	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/routing"
	"github.com/ebpay-ops/alert-router/templates"
	"github.com/ebpay-ops/alert-router/utils"
)

// Result is one row of the webhook response: the outcome of one alert on
// one channel.
type Result struct {
	Alert   string `json:"alert"`
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Historian persists per-send outcome records.
type Historian interface {
	Record(ctx context.Context, records []historian.DeliveryRecord)
}

// Channel pairs a configured channel with its ready-to-send notifier.
type Channel struct {
	Config   receivers.ChannelConfig
	Notifier receivers.NotificationChannel
}

// Dispatcher drives one webhook envelope through the delivery pipeline:
// normalize, then per alert dedup, route, image, filter, render and send.
type Dispatcher struct {
	normalizer  *alert.Normalizer
	deduper     *dedup.Deduper
	router      *routing.Router
	channels    map[string]*Channel
	renderer    *templates.Renderer
	defaultTmpl string
	images      map[string]*images.Provider
	historian   Historian
	metrics     *Metrics
	logger      log.Logger
}

type DispatcherConfig struct {
	Normalizer *alert.Normalizer
	Deduper    *dedup.Deduper
	Router     *routing.Router
	Channels   map[string]*Channel
	Renderer   *templates.Renderer

	// DefaultTemplate overrides the built-in per-type template choice for
	// channels that do not name one.
	DefaultTemplate string

	// Images maps a producer source to its trend chart provider.
	Images map[string]*images.Provider

	// Historian is optional. When nil no delivery history is kept.
	Historian Historian

	Metrics *Metrics
	Logger  log.Logger
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("template renderer is required")
	}
	if cfg.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = alert.NewNormalizer(logger)
	}
	deduper := cfg.Deduper
	if deduper == nil {
		// An absent deduper admits everything.
		deduper, _ = dedup.New(dedup.Config{}, clock.New())
	}
	return &Dispatcher{
		normalizer:  normalizer,
		deduper:     deduper,
		router:      cfg.Router,
		channels:    cfg.Channels,
		renderer:    cfg.Renderer,
		defaultTmpl: cfg.DefaultTemplate,
		images:      cfg.Images,
		historian:   cfg.Historian,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// ProcessWebhook decodes one inbound envelope and fans its alerts out to
// their routed channels. Alerts run in envelope order; channels of one
// alert run concurrently. The returned results carry one row per routed
// channel, suppressed ones included. The error is non-nil only when the
// payload itself was unrecognized.
func (d *Dispatcher) ProcessWebhook(ctx context.Context, payload []byte) ([]Result, error) {
	alerts, err := d.normalizer.Normalize(payload)
	if err != nil {
		d.metrics.EnvelopesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	d.metrics.EnvelopesTotal.WithLabelValues("accepted").Inc()
	d.metrics.AlertsNormalizedTotal.Add(float64(len(alerts)))

	results := make([]Result, 0, len(alerts))
	var records []historian.DeliveryRecord
	for _, a := range alerts {
		rs, recs := d.processAlert(ctx, a)
		results = append(results, rs...)
		records = append(records, recs...)
	}

	if d.historian != nil && len(records) > 0 {
		// Fire and forget. The historian detaches from the request
		// context, so the push outlives the HTTP response.
		go d.historian.Record(ctx, records)
	}
	return results, nil
}

func (d *Dispatcher) processAlert(ctx context.Context, a *alert.Alert) ([]Result, []historian.DeliveryRecord) {
	l := log.With(d.logger, "alertname", a.Name(), "status", a.Status)
	if reqID := utils.RequestIDFromContext(ctx); reqID != "" {
		l = log.With(l, "request_id", reqID)
	}

	if !d.deduper.Admit(a) {
		d.metrics.DedupHitsTotal.Inc()
		level.Info(l).Log("msg", "Alert suppressed inside dedup window", "dedup_hit", true)
		return nil, nil
	}

	targets := d.router.Route(a.Labels)
	if len(targets) == 0 {
		level.Info(l).Log("msg", "No routing rule matched, alert unrouted")
		return nil, nil
	}

	type outcome struct {
		result    Result
		record    historian.DeliveryRecord
		attempted bool
	}
	outcomes := make([]outcome, len(targets))
	var eligible []int
	wantImage := false

	for i, id := range targets {
		ch, known := d.channels[id]
		switch {
		case !known:
			level.Warn(l).Log("msg", "Routing rule names an unknown channel", "channel", id)
			outcomes[i].result = Result{Alert: a.Name(), Channel: id, Reason: "unknown channel"}
		case !ch.Config.Enabled:
			level.Debug(l).Log("msg", "Channel suppressed by channel policy", "channel", id, "reason", "disabled")
			outcomes[i].result = Result{Alert: a.Name(), Channel: id, Reason: "disabled"}
		case a.Resolved() && !ch.Config.SendResolved:
			level.Info(l).Log("msg", "Resolved alert suppressed by channel policy", "channel", id, "reason", "send_resolved=false")
			outcomes[i].result = Result{Alert: a.Name(), Channel: id, Reason: "send_resolved=false"}
		default:
			eligible = append(eligible, i)
			if channelWantsImage(ch.Config) {
				wantImage = true
			}
		}
	}

	var img []byte
	if wantImage {
		img = d.renderImage(ctx, l, a)
	}

	tmplCtx := templates.NewContext(a)
	var g errgroup.Group
	for _, i := range eligible {
		ch := d.channels[targets[i]]
		idx := i
		g.Go(func() error {
			var chImg []byte
			if channelWantsImage(ch.Config) {
				chImg = img
			}
			res, rec := d.send(ctx, l, ch, a, tmplCtx.WithImage(len(chImg) > 0), chImg)
			outcomes[idx] = outcome{result: res, record: rec, attempted: true}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(outcomes))
	records := make([]historian.DeliveryRecord, 0, len(eligible))
	for _, o := range outcomes {
		results = append(results, o.result)
		if o.attempted {
			records = append(records, o.record)
		}
	}
	return results, records
}

// send renders and delivers one alert to one channel, returning the
// response row and the history record.
func (d *Dispatcher) send(ctx context.Context, l log.Logger, ch *Channel, a *alert.Alert, tmplCtx templates.Context, img []byte) (Result, historian.DeliveryRecord) {
	started := time.Now()
	res := Result{Alert: a.Name(), Channel: ch.Config.ID}

	var note string
	text, err := d.renderer.Render(d.templateFor(ch.Config), tmplCtx)
	if err == nil {
		note, err = ch.Notifier.Notify(ctx, &receivers.Notification{Alert: a, Text: text, Image: img})
	}

	if err != nil {
		res.Reason = err.Error()
		d.metrics.SendsTotal.WithLabelValues(ch.Config.ID, "failed").Inc()
		level.Error(l).Log("msg", "Send failed", "channel", ch.Config.ID, "err", err)
	} else {
		res.OK = true
		res.Note = note
		sl := log.With(l, "channel", ch.Config.ID)
		if note != "" {
			sl = log.With(sl, "note", note)
		}
		d.metrics.SendsTotal.WithLabelValues(ch.Config.ID, "ok").Inc()
		level.Info(sl).Log("msg", "Send succeeded")
	}

	return res, historian.DeliveryRecord{
		Alert:       a,
		Channel:     ch.Config.ID,
		ChannelType: receivers.NormalizeType(ch.Config.Type),
		OK:          res.OK,
		Reason:      res.Reason,
		Note:        res.Note,
		Duration:    time.Since(started),
	}
}

// renderImage runs the producer's chart pipeline. Failures degrade to
// text-only delivery, never to a failed send.
func (d *Dispatcher) renderImage(ctx context.Context, l log.Logger, a *alert.Alert) []byte {
	p := d.images[a.Source()]
	if p == nil || !p.Enabled() {
		return nil
	}
	img, err := p.Render(ctx, a)
	switch {
	case err != nil:
		d.metrics.ImageRendersTotal.WithLabelValues("failed").Inc()
		level.Warn(l).Log("msg", "Trend chart render failed, delivering text only", "err", err)
		return nil
	case img == nil:
		d.metrics.ImageRendersTotal.WithLabelValues("empty").Inc()
		return nil
	default:
		d.metrics.ImageRendersTotal.WithLabelValues("ok").Inc()
		return img
	}
}

// channelWantsImage reports whether a channel is configured and able to
// carry a trend chart. Only chat channels have a photo surface.
func channelWantsImage(cfg receivers.ChannelConfig) bool {
	return cfg.ImageEnabled && receivers.NormalizeType(cfg.Type) == "chat"
}

// templateFor resolves the template a channel renders with. Chat and email
// default to the readable chat template, the wire-shaped channels to the
// JSON one.
func (d *Dispatcher) templateFor(cfg receivers.ChannelConfig) string {
	if cfg.Template != "" {
		return cfg.Template
	}
	if d.defaultTmpl != "" {
		return d.defaultTmpl
	}
	switch receivers.NormalizeType(cfg.Type) {
	case "chat", "email":
		return templates.DefaultChatTemplateName
	default:
		return templates.DefaultWebhookTemplateName
	}
}
