package alert

import (
	"time"

	"github.com/prometheus/alertmanager/template"
)

// KV is a set of key/value string pairs. The alias keeps the alertmanager
// template helpers (SortedPairs, Names, Values) available on alert labels
// and annotations inside user templates.
type KV = template.KV

const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// Label keys starting with "_" are reserved for gateway metadata. Producers
// cannot set them; the normalizer strips any that arrive on the wire.
const (
	SourceLabel   = "_source"
	ReceiverLabel = "_receiver"

	SourcePrometheus = "prometheus"
	SourceGrafana    = "grafana"
)

// CurrentValueAnnotation carries the producer-reported current value of the
// alerting series, when one could be recovered.
const CurrentValueAnnotation = "当前值"

// Alert is the canonical record every producer envelope is normalized to.
// Records are immutable after normalization; delivery state (rendered
// message, image bytes) lives with the per-request orchestration instead.
type Alert struct {
	Status       string    `json:"status"`
	Labels       KV        `json:"labels"`
	Annotations  KV        `json:"annotations"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	GeneratorURL string    `json:"generatorURL,omitempty"`

	// Producer extras. Only the Grafana producer fills these.
	Fingerprint  string             `json:"fingerprint,omitempty"`
	SilenceURL   string             `json:"silenceURL,omitempty"`
	DashboardURL string             `json:"dashboardURL,omitempty"`
	PanelURL     string             `json:"panelURL,omitempty"`
	Values       map[string]float64 `json:"values,omitempty"`
	ValueString  string             `json:"valueString,omitempty"`

	// MergedEntities lists, per entity label, the values the normalizer
	// collapsed into this alert, in first-seen order. Nil when no merging
	// happened.
	MergedEntities map[string][]string `json:"merged_entities,omitempty"`
	// EntityValues holds the current values scraped from the collapsed
	// members' summary annotations, in member order.
	EntityValues []string `json:"entity_values,omitempty"`
}

// Resolved reports whether the alert is in the resolved state.
func (a *Alert) Resolved() bool {
	return a.Status == StatusResolved
}

// Open reports whether the alert has no end time yet. The zero time is the
// wire sentinel 0001-01-01T00:00:00Z.
func (a *Alert) Open() bool {
	return a.EndsAt.IsZero()
}

// Source returns the producer recorded by the normalizer.
func (a *Alert) Source() string {
	return a.Labels[SourceLabel]
}

// Receiver returns the producer-side receiver name, if the envelope carried
// one.
func (a *Alert) Receiver() string {
	return a.Labels[ReceiverLabel]
}

// Name returns the alertname label.
func (a *Alert) Name() string {
	return a.Labels["alertname"]
}
