package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/benbjohnson/clock"
	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/dedup"
	"github.com/ebpay-ops/alert-router/historian"
	"github.com/ebpay-ops/alert-router/images"
	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/routing"
	"github.com/ebpay-ops/alert-router/templates"
)

const promEnvelope = `{
	"version": "4",
	"groupKey": "{}:{alertname=\"HighCPU\"}",
	"status": "firing",
	"receiver": "ops",
	"alerts": [{
		"status": "firing",
		"labels": {"alertname": "HighCPU", "severity": "critical"},
		"annotations": {"summary": "CPU above 90%"},
		"startsAt": "2024-01-15T10:30:00Z",
		"generatorURL": "http://prom:9090/graph?g0.expr=cpu"
	}]
}`

const promResolvedEnvelope = `{
	"version": "4",
	"groupKey": "{}:{alertname=\"HighCPU\"}",
	"status": "resolved",
	"receiver": "ops",
	"alerts": [{
		"status": "resolved",
		"labels": {"alertname": "HighCPU"},
		"startsAt": "2024-01-15T10:30:00Z",
		"endsAt": "2024-01-15T10:35:00Z"
	}]
}`

const jenkinsEnvelope = `{
	"version": "4",
	"groupKey": "{}:{alertname=\"JenkinsBuildFailed\"}",
	"status": "firing",
	"receiver": "prod_ebpay_jenkins_alarm",
	"alerts": [{
		"status": "firing",
		"labels": {"alertname": "JenkinsBuildFailed", "instance": "ci-1"},
		"startsAt": "2024-01-15T10:30:00Z"
	}]
}`

type fakeNotifier struct {
	mu    sync.Mutex
	calls []receivers.Notification
	note  string
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, n *receivers.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *n)
	if f.err != nil {
		return "", f.err
	}
	return f.note, nil
}

func (f *fakeNotifier) GetSendResolved() bool { return true }

func (f *fakeNotifier) sent() []receivers.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]receivers.Notification, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeHistorian struct {
	recorded chan []historian.DeliveryRecord
}

func newFakeHistorian() *fakeHistorian {
	return &fakeHistorian{recorded: make(chan []historian.DeliveryRecord, 1)}
}

func (f *fakeHistorian) Record(_ context.Context, records []historian.DeliveryRecord) {
	f.recorded <- records
}

func (f *fakeHistorian) wait(t *testing.T) []historian.DeliveryRecord {
	t.Helper()
	select {
	case recs := <-f.recorded:
		return recs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery history")
		return nil
	}
}

func webhookChannel(id string, n receivers.NotificationChannel) *Channel {
	return &Channel{
		Config: receivers.ChannelConfig{
			ID:           id,
			Type:         "webhook",
			Enabled:      true,
			SendResolved: true,
		},
		Notifier: n,
	}
}

func newTestDispatcher(t *testing.T, rules []routing.Rule, channels map[string]*Channel, opts ...func(*DispatcherConfig)) (*Dispatcher, *Metrics) {
	t.Helper()
	router, err := routing.NewRouter(rules)
	require.NoError(t, err)
	renderer, err := templates.NewRenderer(templates.Config{}, log.NewNopLogger())
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry())
	cfg := DispatcherConfig{
		Router:   router,
		Channels: channels,
		Renderer: renderer,
		Metrics:  m,
		Logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	return d, m
}

func defaultRules() []routing.Rule {
	return []routing.Rule{{Match: map[string]string{alert.SourceLabel: "prometheus"}, SendTo: []string{"hook"}}}
}

func TestProcessWebhookDelivers(t *testing.T) {
	notifier := &fakeNotifier{}
	d, m := newTestDispatcher(t, defaultRules(), map[string]*Channel{"hook": webhookChannel("hook", notifier)})

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "hook", OK: true}}, results)

	sent := notifier.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "HighCPU", sent[0].Alert.Name())
	require.Contains(t, sent[0].Text, `"alertname": "HighCPU"`)
	require.Nil(t, sent[0].Image)

	require.Equal(t, 1, int(testutil.ToFloat64(m.EnvelopesTotal.WithLabelValues("accepted"))))
	require.Equal(t, 1, int(testutil.ToFloat64(m.AlertsNormalizedTotal)))
	require.Equal(t, 1, int(testutil.ToFloat64(m.SendsTotal.WithLabelValues("hook", "ok"))))
}

func TestProcessWebhookUnrecognizedPayload(t *testing.T) {
	d, m := newTestDispatcher(t, defaultRules(), nil)

	results, err := d.ProcessWebhook(context.Background(), []byte(`{"surprise": true}`))
	require.ErrorIs(t, err, alert.ErrUnrecognizedPayload)
	require.Nil(t, results)
	require.Equal(t, 1, int(testutil.ToFloat64(m.EnvelopesTotal.WithLabelValues("rejected"))))
}

func TestProcessWebhookUnrouted(t *testing.T) {
	notifier := &fakeNotifier{}
	rules := []routing.Rule{{Match: map[string]string{"alertname": "SomethingElse"}, SendTo: []string{"hook"}}}
	d, _ := newTestDispatcher(t, rules, map[string]*Channel{"hook": webhookChannel("hook", notifier)})

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, notifier.sent())
}

func TestProcessWebhookSendResolvedSuppressed(t *testing.T) {
	notifier := &fakeNotifier{}
	ch := webhookChannel("hook", notifier)
	ch.Config.SendResolved = false
	d, _ := newTestDispatcher(t, defaultRules(), map[string]*Channel{"hook": ch})

	results, err := d.ProcessWebhook(context.Background(), []byte(promResolvedEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "hook", OK: false, Reason: "send_resolved=false"}}, results)
	require.Empty(t, notifier.sent())
}

func TestProcessWebhookDisabledChannel(t *testing.T) {
	ch := &Channel{Config: receivers.ChannelConfig{ID: "hook", Type: "webhook"}}
	d, _ := newTestDispatcher(t, defaultRules(), map[string]*Channel{"hook": ch})

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "hook", OK: false, Reason: "disabled"}}, results)
}

func TestProcessWebhookUnknownChannel(t *testing.T) {
	rules := []routing.Rule{{Match: map[string]string{alert.SourceLabel: "prometheus"}, SendTo: []string{"ghost"}}}
	d, _ := newTestDispatcher(t, rules, nil)

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "ghost", OK: false, Reason: "unknown channel"}}, results)
}

func TestProcessWebhookDedup(t *testing.T) {
	notifier := &fakeNotifier{}
	deduper, err := dedup.New(dedup.DefaultConfig, clock.New())
	require.NoError(t, err)

	d, m := newTestDispatcher(t, defaultRules(), map[string]*Channel{"hook": webhookChannel("hook", notifier)},
		func(cfg *DispatcherConfig) { cfg.Deduper = deduper })

	first, err := d.ProcessWebhook(context.Background(), []byte(jenkinsEnvelope))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, first[0].OK)

	second, err := d.ProcessWebhook(context.Background(), []byte(jenkinsEnvelope))
	require.NoError(t, err)
	require.Empty(t, second)

	require.Len(t, notifier.sent(), 1)
	require.Equal(t, 1, int(testutil.ToFloat64(m.DedupHitsTotal)))
	require.Equal(t, 2, int(testutil.ToFloat64(m.EnvelopesTotal.WithLabelValues("accepted"))))
}

func TestProcessWebhookFanOut(t *testing.T) {
	good := &fakeNotifier{}
	bad := &fakeNotifier{err: errors.New("webhook response status 503")}
	rules := []routing.Rule{{Match: map[string]string{alert.SourceLabel: "prometheus"}, SendTo: []string{"hook-a", "hook-b"}}}
	h := newFakeHistorian()
	d, m := newTestDispatcher(t, rules, map[string]*Channel{
		"hook-a": webhookChannel("hook-a", good),
		"hook-b": webhookChannel("hook-b", bad),
	}, func(cfg *DispatcherConfig) { cfg.Historian = h })

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{
		{Alert: "HighCPU", Channel: "hook-a", OK: true},
		{Alert: "HighCPU", Channel: "hook-b", OK: false, Reason: "webhook response status 503"},
	}, results)

	require.Equal(t, 1, int(testutil.ToFloat64(m.SendsTotal.WithLabelValues("hook-a", "ok"))))
	require.Equal(t, 1, int(testutil.ToFloat64(m.SendsTotal.WithLabelValues("hook-b", "failed"))))

	records := h.wait(t)
	require.Len(t, records, 2)
	require.Equal(t, "hook-a", records[0].Channel)
	require.Equal(t, "webhook", records[0].ChannelType)
	require.True(t, records[0].OK)
	require.Equal(t, "HighCPU", records[0].Alert.Name())
	require.Equal(t, "hook-b", records[1].Channel)
	require.False(t, records[1].OK)
	require.Equal(t, "webhook response status 503", records[1].Reason)
}

func TestProcessWebhookNotePropagates(t *testing.T) {
	notifier := &fakeNotifier{note: "html-fallback"}
	d, _ := newTestDispatcher(t, defaultRules(), map[string]*Channel{"hook": webhookChannel("hook", notifier)})

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "hook", OK: true, Note: "html-fallback"}}, results)
}

func TestProcessWebhookImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"instance":"api-1"},"values":[[1700000000,"1.5"],[1700000060,"2.5"],[1700000120,"3.5"]]}]}}`))
	}))
	defer srv.Close()

	chatNotifier := &fakeNotifier{}
	plainNotifier := &fakeNotifier{}
	chatCh := &Channel{
		Config: receivers.ChannelConfig{
			ID:           "chat",
			Type:         "chat",
			Enabled:      true,
			SendResolved: true,
			ImageEnabled: true,
		},
		Notifier: chatNotifier,
	}
	rules := []routing.Rule{{Match: map[string]string{alert.SourceLabel: "prometheus"}, SendTo: []string{"chat", "hook"}}}
	providers := map[string]*images.Provider{
		"prometheus": images.NewProvider(images.Config{Enabled: true, PrometheusURL: srv.URL}, nil, nil, nil),
	}

	d, m := newTestDispatcher(t, rules, map[string]*Channel{
		"chat": chatCh,
		"hook": webhookChannel("hook", plainNotifier),
	}, func(cfg *DispatcherConfig) { cfg.Images = providers })

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, r.OK)
	}

	chatSent := chatNotifier.sent()
	require.Len(t, chatSent, 1)
	require.NotEmpty(t, chatSent[0].Image)
	require.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, chatSent[0].Image[:4])

	plainSent := plainNotifier.sent()
	require.Len(t, plainSent, 1)
	require.Nil(t, plainSent[0].Image, "image travels only to channels that asked for one")

	require.Equal(t, 1, int(testutil.ToFloat64(m.ImageRendersTotal.WithLabelValues("ok"))))
}

func TestProcessWebhookImageFailureIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	chatNotifier := &fakeNotifier{}
	chatCh := &Channel{
		Config: receivers.ChannelConfig{
			ID:           "chat",
			Type:         "chat",
			Enabled:      true,
			SendResolved: true,
			ImageEnabled: true,
		},
		Notifier: chatNotifier,
	}
	rules := []routing.Rule{{Match: map[string]string{alert.SourceLabel: "prometheus"}, SendTo: []string{"chat"}}}
	providers := map[string]*images.Provider{
		"prometheus": images.NewProvider(images.Config{Enabled: true, PrometheusURL: srv.URL}, nil, nil, nil),
	}

	d, m := newTestDispatcher(t, rules, map[string]*Channel{"chat": chatCh},
		func(cfg *DispatcherConfig) { cfg.Images = providers })

	results, err := d.ProcessWebhook(context.Background(), []byte(promEnvelope))
	require.NoError(t, err)
	require.Equal(t, []Result{{Alert: "HighCPU", Channel: "chat", OK: true}}, results)

	sent := chatNotifier.sent()
	require.Len(t, sent, 1)
	require.Nil(t, sent[0].Image)
	require.NotEmpty(t, sent[0].Text)
	require.Equal(t, 1, int(testutil.ToFloat64(m.ImageRendersTotal.WithLabelValues("failed"))))
}

func TestNewDispatcherValidation(t *testing.T) {
	renderer, err := templates.NewRenderer(templates.Config{}, log.NewNopLogger())
	require.NoError(t, err)
	router, err := routing.NewRouter(defaultRules())
	require.NoError(t, err)
	m := NewMetrics(prometheus.NewRegistry())

	_, err = NewDispatcher(DispatcherConfig{Renderer: renderer, Metrics: m})
	require.ErrorContains(t, err, "router is required")

	_, err = NewDispatcher(DispatcherConfig{Router: router, Metrics: m})
	require.ErrorContains(t, err, "template renderer is required")

	_, err = NewDispatcher(DispatcherConfig{Router: router, Renderer: renderer})
	require.ErrorContains(t, err, "metrics are required")
}
