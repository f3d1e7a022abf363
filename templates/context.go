package templates

import (
	"time"

	"github.com/ebpay-ops/alert-router/alert"
)

// Context is the data a template executes against. Every documented key is
// always present, so lookups on absent labels and annotations come out as
// empty strings under missingkey=zero instead of failing the render.
type Context map[string]any

// NewContext builds the render context for one alert.
func NewContext(a *alert.Alert) Context {
	labels := a.Labels
	if labels == nil {
		labels = alert.KV{}
	}
	annotations := a.Annotations
	if annotations == nil {
		annotations = alert.KV{}
	}

	return Context{
		"status":          a.Status,
		"status_text":     StatusText(a.Status),
		"labels":          labels,
		"annotations":     annotations,
		"startsAt":        a.StartsAt.Format(time.RFC3339),
		"endsAt":          a.EndsAt.Format(time.RFC3339),
		"startsAt_cst":    FormatCST(a.StartsAt),
		"endsAt_cst":      FormatCST(a.EndsAt),
		"generatorURL":    a.GeneratorURL,
		"fingerprint":     a.Fingerprint,
		"silenceURL":      a.SilenceURL,
		"dashboardURL":    a.DashboardURL,
		"panelURL":        a.PanelURL,
		"values":          a.Values,
		"valueString":     a.ValueString,
		"merged_entities": a.MergedEntities,
		"entity_values":   a.EntityValues,
	}
}

// WithImage returns a copy of the context carrying the image presence flag.
// The receiver is shared across channel fan-out and is never mutated.
func (c Context) WithImage(has bool) Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out["has_image"] = has
	return out
}

// StatusText is the Chinese status word used across notification templates.
func StatusText(status string) string {
	if status == alert.StatusResolved {
		return "恢复"
	}
	return "告警"
}
