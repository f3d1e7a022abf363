package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ebpay-ops/alert-router/alert"
	httpinstrument "github.com/ebpay-ops/alert-router/http/instrument"
	"github.com/ebpay-ops/alert-router/lokiclient"
)

const (
	LokiClientSpanName          = "alert-router.delivery-historian.client"
	DeliveryHistoryWriteTimeout = time.Minute
	LabelFrom                   = "from"
	LabelFromValue              = "notify-history"
	SchemaVersion               = 1
)

// DeliveryRecord is the outcome of one send attempt, one alert to one
// channel.
type DeliveryRecord struct {
	Alert       *alert.Alert
	Channel     string
	ChannelType string
	OK          bool
	Reason      string
	Note        string
	Duration    time.Duration
}

// DeliveryHistoryLokiEntry is the schema of one Loki log line. Duration is
// in milliseconds.
type DeliveryHistoryLokiEntry struct {
	SchemaVersion int       `json:"schemaVersion"`
	Channel       string    `json:"channel"`
	ChannelType   string    `json:"channelType"`
	OK            bool      `json:"ok"`
	Reason        string    `json:"reason,omitempty"`
	Note          string    `json:"note,omitempty"`
	Duration      int64     `json:"duration"`
	Status        string    `json:"status"`
	Labels        alert.KV  `json:"labels"`
	Annotations   alert.KV  `json:"annotations"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
}

type remoteLokiClient interface {
	Ping(context.Context) error
	Push(context.Context, []lokiclient.Stream) error
}

// DeliveryHistorian writes per-send outcome records to a Loki-compatible
// sink. Writes never influence the delivery pipeline; callers that must not
// wait on Loki invoke Record in a goroutine.
type DeliveryHistorian struct {
	client         remoteLokiClient
	externalLabels map[string]string
	writesTotal    prometheus.Counter
	writesFailed   prometheus.Counter
	logger         log.Logger
}

func NewDeliveryHistorian(
	logger log.Logger,
	cfg lokiclient.LokiConfig,
	req httpinstrument.Requester,
	bytesWritten prometheus.Counter,
	writeDuration *instrument.HistogramCollector,
	writesTotal prometheus.Counter,
	writesFailed prometheus.Counter,
	tracer trace.Tracer,
) *DeliveryHistorian {
	return &DeliveryHistorian{
		client:         lokiclient.NewLokiClient(cfg, req, bytesWritten, writeDuration, logger, tracer, LokiClientSpanName),
		externalLabels: cfg.ExternalLabels,
		writesTotal:    writesTotal,
		writesFailed:   writesFailed,
		logger:         logger,
	}
}

// TestConnection checks that the read path of the sink is reachable.
func (h *DeliveryHistorian) TestConnection(ctx context.Context) error {
	return h.client.Ping(ctx)
}

// Record pushes the delivery records of one envelope as a single stream.
// Push errors are counted and logged, not returned.
func (h *DeliveryHistorian) Record(ctx context.Context, records []DeliveryRecord) {
	if len(records) == 0 {
		return
	}
	stream, err := h.prepareStream(records)
	if err != nil {
		level.Error(h.logger).Log("msg", "Failed to convert delivery records to a stream", "error", err)
		return
	}

	// The write runs on its own deadline. The request context is cancelled
	// as soon as the HTTP response goes out, which would abort the push
	// mid-flight.
	writeCtx, cancel := context.WithTimeout(context.Background(), DeliveryHistoryWriteTimeout)
	writeCtx = trace.ContextWithSpan(writeCtx, trace.SpanFromContext(ctx))
	defer cancel()

	level.Debug(h.logger).Log("msg", "Saving delivery history", "records", len(records))
	h.writesTotal.Inc()

	if err := h.client.Push(writeCtx, []lokiclient.Stream{stream}); err != nil {
		level.Error(h.logger).Log("msg", "Failed to save delivery history", "error", err)
		h.writesFailed.Inc()
		return
	}
	level.Debug(h.logger).Log("msg", "Done saving delivery history")
}

func (h *DeliveryHistorian) prepareStream(records []DeliveryRecord) (lokiclient.Stream, error) {
	now := time.Now()
	values := make([]lokiclient.Sample, len(records))
	for i, r := range records {
		entry := DeliveryHistoryLokiEntry{
			SchemaVersion: SchemaVersion,
			Channel:       r.Channel,
			ChannelType:   r.ChannelType,
			OK:            r.OK,
			Reason:        r.Reason,
			Note:          r.Note,
			Duration:      r.Duration.Milliseconds(),
		}
		if r.Alert != nil {
			entry.Status = r.Alert.Status
			entry.Labels = r.Alert.Labels
			entry.Annotations = r.Alert.Annotations
			entry.StartsAt = r.Alert.StartsAt
			entry.EndsAt = r.Alert.EndsAt
		}

		entryJSON, err := json.Marshal(entry)
		if err != nil {
			return lokiclient.Stream{}, fmt.Errorf("marshal delivery entry: %w", err)
		}

		outcome := "ok"
		if !r.OK {
			outcome = "failed"
		}
		values[i] = lokiclient.Sample{
			// Loki pagination is timestamp based. Lines in one push must
			// not share a timestamp or large envelopes become partially
			// unretrievable.
			T: now.Add(time.Nanosecond * time.Duration(i)),
			V: string(entryJSON),
			Metadata: map[string]string{
				"channel": r.Channel,
				"outcome": outcome,
			},
		}
	}

	streamLabels := make(map[string]string)
	streamLabels[LabelFrom] = LabelFromValue
	for k, v := range h.externalLabels {
		streamLabels[k] = v
	}

	return lokiclient.Stream{Stream: streamLabels, Values: values}, nil
}
