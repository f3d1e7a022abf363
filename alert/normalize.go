package alert

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// entityLabels are the labels along which same-name prometheus alerts are
// collapsed, in priority order. The first one whose values differ across the
// group names the collapsed dimension.
var entityLabels = []string{
	"replica",
	"pod",
	"instance",
	"service_name",
	"consumergroup",
	"topic",
	"jenkins_job",
	"device",
	"container",
	"build_number",
	"status",
}

var (
	currentValueRe = regexp.MustCompile(`当前值[：:]\s*([^\s|]+)`)
	valueStringRe  = regexp.MustCompile(`var='B' labels=\{.*?\} value=(\d+(?:\.\d+)?)`)
)

// Normalizer turns producer envelopes into canonical alerts.
type Normalizer struct {
	logger log.Logger
}

func NewNormalizer(logger log.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize identifies the producer shape of payload and returns the
// canonical alerts, in envelope order. Malformed per-alert entries are
// logged and skipped; the call fails only when the shape is unrecognized or
// no alert could be extracted.
func (n *Normalizer) Normalize(payload []byte) ([]*Alert, error) {
	switch Identify(payload) {
	case KindPrometheus:
		return n.fromEnvelope(payload, SourcePrometheus)
	case KindGrafana:
		return n.fromEnvelope(payload, SourceGrafana)
	case KindSingle:
		return n.fromSingle(payload)
	default:
		return nil, ErrUnrecognizedPayload
	}
}

func (n *Normalizer) fromEnvelope(payload []byte, source string) ([]*Alert, error) {
	var env Envelope
	if err := jsonit.Unmarshal(payload, &env); err != nil {
		return nil, ErrUnrecognizedPayload
	}

	alerts := make([]*Alert, 0, len(env.Alerts))
	for i, raw := range env.Alerts {
		var wa WireAlert
		if err := jsonit.Unmarshal(raw, &wa); err != nil {
			level.Warn(n.logger).Log("msg", "Skipping malformed alert entry", "source", source, "index", i, "err", err)
			continue
		}
		alerts = append(alerts, n.canonical(&wa, &env, source))
	}
	if len(alerts) == 0 {
		return nil, ErrUnrecognizedPayload
	}

	if source == SourcePrometheus {
		alerts = mergeByName(alerts)
	}
	return alerts, nil
}

func (n *Normalizer) fromSingle(payload []byte) ([]*Alert, error) {
	var wa WireAlert
	if err := jsonit.Unmarshal(payload, &wa); err != nil {
		return nil, ErrUnrecognizedPayload
	}

	a := &Alert{
		Status:         normalizeStatus(wa.Status, ""),
		Labels:         KV{},
		Annotations:    copyKV(wa.Annotations),
		StartsAt:       wa.StartsAt,
		EndsAt:         wa.EndsAt,
		GeneratorURL:   wa.GeneratorURL,
		Fingerprint:    wa.Fingerprint,
		SilenceURL:     wa.SilenceURL,
		DashboardURL:   wa.DashboardURL,
		PanelURL:       wa.PanelURL,
		Values:         wa.Values,
		ValueString:    wa.ValueString,
		MergedEntities: wa.MergedEntities,
		EntityValues:   wa.EntityValues,
	}

	// Reserved labels are stripped, except those a previous normalization
	// pass set itself: round-tripping a canonical alert must be a no-op.
	source := SourcePrometheus
	for k, v := range wa.Labels {
		if strings.HasPrefix(k, "_") {
			switch {
			case k == SourceLabel && (v == SourcePrometheus || v == SourceGrafana):
				source = v
			case k == ReceiverLabel:
				a.Labels[ReceiverLabel] = v
			}
			continue
		}
		a.Labels[k] = v
	}
	a.Labels[SourceLabel] = source

	if source == SourceGrafana {
		setGrafanaCurrentValue(a)
	}
	return []*Alert{a}, nil
}

// canonical promotes one wire entry, layering envelope-level labels and
// annotations under the per-alert values.
func (n *Normalizer) canonical(wa *WireAlert, env *Envelope, source string) *Alert {
	a := &Alert{
		Status:       normalizeStatus(wa.Status, env.Status),
		Labels:       KV{},
		Annotations:  KV{},
		StartsAt:     wa.StartsAt,
		EndsAt:       wa.EndsAt,
		GeneratorURL: wa.GeneratorURL,
		Fingerprint:  wa.Fingerprint,
		SilenceURL:   wa.SilenceURL,
		DashboardURL: wa.DashboardURL,
		PanelURL:     wa.PanelURL,
		Values:       wa.Values,
		ValueString:  wa.ValueString,
	}

	for k, v := range env.CommonLabels {
		if !strings.HasPrefix(k, "_") {
			a.Labels[k] = v
		}
	}
	for k, v := range wa.Labels {
		if !strings.HasPrefix(k, "_") {
			a.Labels[k] = v
		}
	}
	for k, v := range env.CommonAnnotations {
		a.Annotations[k] = v
	}
	for k, v := range wa.Annotations {
		a.Annotations[k] = v
	}

	a.Labels[SourceLabel] = source
	if env.Receiver != "" {
		a.Labels[ReceiverLabel] = env.Receiver
	}

	if source == SourceGrafana {
		setGrafanaCurrentValue(a)
	}
	return a
}

// setGrafanaCurrentValue records the alerting series' current value in the
// conventional annotation. The reduce expression is ref "B" in the Grafana
// rule model, so values["B"] wins; valueString is the fallback.
func setGrafanaCurrentValue(a *Alert) {
	if _, ok := a.Annotations[CurrentValueAnnotation]; ok {
		return
	}
	if v, ok := a.Values["B"]; ok {
		a.Annotations[CurrentValueAnnotation] = strconv.FormatFloat(v, 'f', -1, 64)
		return
	}
	if m := valueStringRe.FindStringSubmatch(a.ValueString); m != nil {
		a.Annotations[CurrentValueAnnotation] = m[1]
	}
}

func normalizeStatus(alertStatus, envelopeStatus string) string {
	switch alertStatus {
	case StatusFiring, StatusResolved:
		return alertStatus
	}
	switch envelopeStatus {
	case StatusFiring, StatusResolved:
		return envelopeStatus
	}
	return StatusFiring
}

// mergeByName collapses prometheus alerts that share an alertname into one
// record per name, preserving first-seen name order. Labels that agree
// across the whole group survive; entity labels with diverging values are
// listed in MergedEntities instead.
func mergeByName(alerts []*Alert) []*Alert {
	names := make([]string, 0, len(alerts))
	groups := make(map[string][]*Alert, len(alerts))
	for _, a := range alerts {
		name := a.Name()
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], a)
	}

	out := make([]*Alert, 0, len(names))
	for _, name := range names {
		group := groups[name]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		out = append(out, mergeGroup(group))
	}
	return out
}

func mergeGroup(group []*Alert) *Alert {
	first := group[0]
	merged := &Alert{
		Status:       groupStatus(group),
		Labels:       agreeingLabels(group),
		Annotations:  copyKV(first.Annotations),
		StartsAt:     earliestStart(group),
		EndsAt:       groupEnd(group),
		GeneratorURL: first.GeneratorURL,
	}

	entities := make(map[string][]string)
	for _, label := range entityLabels {
		values := distinctValues(group, label)
		if len(values) > 1 {
			entities[label] = values
		}
	}
	if len(entities) > 0 {
		merged.MergedEntities = entities
	}

	for _, a := range group {
		if m := currentValueRe.FindStringSubmatch(a.Annotations["summary"]); m != nil {
			merged.EntityValues = append(merged.EntityValues, m[1])
		}
	}
	return merged
}

func groupStatus(group []*Alert) string {
	for _, a := range group {
		if a.Status == StatusFiring {
			return StatusFiring
		}
	}
	return StatusResolved
}

func earliestStart(group []*Alert) time.Time {
	t := group[0].StartsAt
	for _, a := range group[1:] {
		if !a.StartsAt.IsZero() && (t.IsZero() || a.StartsAt.Before(t)) {
			t = a.StartsAt
		}
	}
	return t
}

// groupEnd is the zero sentinel while any member is still open, else the
// latest member end.
func groupEnd(group []*Alert) time.Time {
	var t time.Time
	for _, a := range group {
		if a.EndsAt.IsZero() {
			return time.Time{}
		}
		if a.EndsAt.After(t) {
			t = a.EndsAt
		}
	}
	return t
}

func agreeingLabels(group []*Alert) KV {
	agreed := copyKV(group[0].Labels)
	for _, a := range group[1:] {
		for k, v := range agreed {
			if a.Labels[k] != v {
				delete(agreed, k)
			}
		}
	}
	return agreed
}

func distinctValues(group []*Alert, label string) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, a := range group {
		v, ok := a.Labels[label]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}

func copyKV(kv KV) KV {
	out := make(KV, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}
