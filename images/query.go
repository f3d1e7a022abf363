package images

import (
	"fmt"
	"net/url"

	"github.com/ebpay-ops/alert-router/alert"
)

// grafanaQueryParams are tried in order against a Grafana generator URL.
var grafanaQueryParams = []string{"query", "expr", "g0.expr"}

// extractQueries pulls the PromQL expressions out of the alert's generator
// URL. Prometheus generator URLs carry g0.expr plus optional g1.expr and so
// on for overlays; Grafana embeds a single expression under varying names.
func extractQueries(a *alert.Alert) ([]string, error) {
	u, err := url.Parse(a.GeneratorURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: generator URL %q is not absolute", ErrNoQuery, a.GeneratorURL)
	}
	q := u.Query()

	if a.Source() == alert.SourceGrafana {
		for _, key := range grafanaQueryParams {
			if expr := q.Get(key); expr != "" {
				return []string{expr}, nil
			}
		}
		return nil, fmt.Errorf("%w: no query, expr or g0.expr parameter", ErrNoQuery)
	}

	var exprs []string
	for i := 0; ; i++ {
		expr := q.Get(fmt.Sprintf("g%d.expr", i))
		if expr == "" {
			break
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 0 {
		return nil, fmt.Errorf("%w: no g0.expr parameter", ErrNoQuery)
	}
	return exprs, nil
}
