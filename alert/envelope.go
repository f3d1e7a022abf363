package alert

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrUnrecognizedPayload is returned when the envelope matches none of the
// recognized producer shapes. The front door maps it to HTTP 400; the error
// text is part of the response contract.
var ErrUnrecognizedPayload = errors.New("UnrecognizedPayload")

// Kind identifies the producer shape of an inbound envelope.
type Kind string

const (
	KindPrometheus Kind = "prometheus"
	KindGrafana    Kind = "grafana"
	KindSingle     Kind = "single"
	KindUnknown    Kind = "unknown"
)

// Envelope is the outer webhook payload. Prometheus-style and Grafana-style
// envelopes share the field set; the Grafana producer additionally fills
// OrgID, State, Title and Message.
type Envelope struct {
	Version           string            `json:"version,omitempty"`
	GroupKey          string            `json:"groupKey,omitempty"`
	Status            string            `json:"status,omitempty"`
	Receiver          string            `json:"receiver,omitempty"`
	GroupLabels       KV                `json:"groupLabels,omitempty"`
	CommonLabels      KV                `json:"commonLabels,omitempty"`
	CommonAnnotations KV                `json:"commonAnnotations,omitempty"`
	ExternalURL       string            `json:"externalURL,omitempty"`
	Alerts            []json.RawMessage `json:"alerts"`

	OrgID   int64  `json:"orgId,omitempty"`
	State   string `json:"state,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// WireAlert is one per-alert entry of an envelope, or the whole payload for
// the single-alert shape. It accepts the union of the Prometheus and Grafana
// per-alert fields.
type WireAlert struct {
	Status       string    `json:"status"`
	Labels       KV        `json:"labels"`
	Annotations  KV        `json:"annotations"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	GeneratorURL string    `json:"generatorURL"`

	Fingerprint  string             `json:"fingerprint"`
	SilenceURL   string             `json:"silenceURL"`
	DashboardURL string             `json:"dashboardURL"`
	PanelURL     string             `json:"panelURL"`
	Values       map[string]float64 `json:"values"`
	ValueString  string             `json:"valueString"`

	// Round-trip fields: a canonical alert serialized back into a
	// single-alert envelope keeps its derived state.
	MergedEntities map[string][]string `json:"merged_entities"`
	EntityValues   []string            `json:"entity_values"`
}

// probe holds just enough of the payload to discriminate producers. Raw
// fields distinguish "absent" from "present but empty".
type probe struct {
	OrgID    json.RawMessage `json:"orgId"`
	Version  json.RawMessage `json:"version"`
	State    json.RawMessage `json:"state"`
	Title    json.RawMessage `json:"title"`
	GroupKey json.RawMessage `json:"groupKey"`
	Alerts   json.RawMessage `json:"alerts"`
	Labels   json.RawMessage `json:"labels"`
	Status   json.RawMessage `json:"status"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func isNumber(raw json.RawMessage) bool {
	if !present(raw) {
		return false
	}
	var n float64
	return json.Unmarshal(raw, &n) == nil
}

func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Identify applies the producer discrimination rules in order:
//
//  1. numeric orgId                                     -> grafana
//  2. version "1" and state or title present            -> grafana
//  3. version != "1" with groupKey and alerts           -> prometheus
//  4. alerts present                                    -> prometheus (lenient)
//  5. payload itself carries labels and status          -> single
//  6. otherwise                                         -> unknown
func Identify(payload []byte) Kind {
	var p probe
	if err := json.Unmarshal(payload, &p); err != nil {
		return KindUnknown
	}

	if isNumber(p.OrgID) {
		return KindGrafana
	}
	if asString(p.Version) == "1" && (present(p.State) || present(p.Title)) {
		return KindGrafana
	}
	if present(p.Version) && asString(p.Version) != "1" && present(p.GroupKey) && present(p.Alerts) {
		return KindPrometheus
	}
	if present(p.Alerts) {
		return KindPrometheus
	}
	if present(p.Labels) && present(p.Status) {
		return KindSingle
	}
	return KindUnknown
}
