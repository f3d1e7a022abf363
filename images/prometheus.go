package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/model"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/templates"
)

// maxResponseSize caps how much of a query_range response is read.
const maxResponseSize = 5 << 20 // 5 MiB

type rangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     model.Matrix `json:"result"`
	} `json:"data"`
}

func (p *Provider) rangeQuery(ctx context.Context, base *url.URL, expr string, start, end time.Time) (model.Matrix, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	queryURL := base.JoinPath("/api/v1/query_range")
	values := url.Values{}
	values.Set("query", expr)
	values.Set("start", strconv.FormatInt(start.Unix(), 10))
	values.Set("end", strconv.FormatInt(end.Unix(), 10))
	values.Set("step", p.cfg.Step.String())
	queryURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			level.Warn(p.log).Log("msg", "Failed to close response body", "err", err)
		}
	}()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d from metrics backend", ErrQueryFailed, res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	var decoded rangeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if decoded.Status != "success" {
		return nil, fmt.Errorf("%w: backend status %q", ErrQueryFailed, decoded.Status)
	}
	return decoded.Data.Result, nil
}

// alertOnlyLabels describe the alert rule rather than the underlying series
// and never take part in series matching.
var alertOnlyLabels = map[string]struct{}{
	"alertname":         {},
	"severity":          {},
	"cluster":           {},
	alert.SourceLabel:   {},
	alert.ReceiverLabel: {},
}

// filterByAlertLabels keeps the series that agree with the alert's own
// labels, so a disk alert charts the one device instead of every mount.
// When nothing agrees the full set is kept rather than drawing an empty
// chart.
func filterByAlertLabels(series model.Matrix, labels alert.KV, logger log.Logger) model.Matrix {
	if len(series) == 0 || len(labels) == 0 {
		return series
	}
	match := make(map[string]string, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		if _, skip := alertOnlyLabels[k]; skip {
			continue
		}
		match[k] = v
	}
	if len(match) == 0 {
		return series
	}

	var filtered model.Matrix
	for _, s := range series {
		if seriesMatches(s.Metric, match) {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return series
	}
	level.Debug(logger).Log("msg", "Filtered chart series by alert labels", "total", len(series), "kept", len(filtered))
	return filtered
}

func seriesMatches(metric model.Metric, match map[string]string) bool {
	for k, v := range match {
		if string(metric[model.LabelName(k)]) != v {
			return false
		}
	}
	return true
}

const maxLegendLength = 90

// legendLabelAllowlist keeps chart legends down to the labels operators key
// on; anything else only shows up through the fallback path.
var legendLabelAllowlist = map[string]struct{}{
	"pod": {}, "container": {}, "device": {}, "mountpoint": {}, "fstype": {},
	"instance": {}, "node": {}, "topic": {}, "consumergroup": {}, "name": {},
	"address": {}, "group": {}, "broker": {}, "brokerIP": {}, "cluster": {},
	"env": {}, "service_name": {}, "endpoint": {}, "application": {},
	"jenkins_job": {}, "build_number": {}, "server_name": {}, "status": {},
	"uri": {}, "request_uri": {}, "remote_addr": {}, "url": {},
	"namespace": {}, "alertmanager": {}, "remote_name": {}, "controller": {},
	"resource": {}, "service": {}, "kubernetes_namespace": {},
}

// seriesLegend builds the legend entry for one series: sorted k=v pairs of
// allowlisted labels, falling back to every non-name label, then to the
// metric name.
func seriesLegend(metric model.Metric) string {
	if len(metric) == 0 {
		return "series"
	}
	names := make([]string, 0, len(metric))
	for name := range metric {
		names = append(names, string(name))
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		if name == model.MetricNameLabel {
			continue
		}
		if _, ok := legendLabelAllowlist[name]; ok {
			pairs = append(pairs, fmt.Sprintf("%s=%s", name, metric[model.LabelName(name)]))
		}
	}
	if len(pairs) == 0 {
		for _, name := range names {
			if name == model.MetricNameLabel {
				continue
			}
			pairs = append(pairs, fmt.Sprintf("%s=%s", name, metric[model.LabelName(name)]))
		}
	}

	legend := strings.Join(pairs, ", ")
	if legend == "" {
		legend = string(metric[model.MetricNameLabel])
	}
	if legend == "" {
		return "series"
	}
	if len(legend) > maxLegendLength {
		return legend[:maxLegendLength-3] + "..."
	}
	return legend
}

// chartSeries is one drawable line, timestamps already shifted to CST.
type chartSeries struct {
	legend string
	times  []time.Time
	values []float64
}

// toChartSeries flattens the matrix, dropping samples that cannot be drawn
// and series that end up with fewer than two points.
func toChartSeries(series model.Matrix) []chartSeries {
	out := make([]chartSeries, 0, len(series))
	for _, s := range series {
		cs := chartSeries{legend: seriesLegend(s.Metric)}
		for _, v := range s.Values {
			f := float64(v.Value)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			cs.times = append(cs.times, v.Timestamp.Time().In(templates.CST()))
			cs.values = append(cs.values, f)
		}
		if len(cs.times) < 2 {
			continue
		}
		out = append(out, cs)
	}
	return out
}
