package templates

import (
	"fmt"
	"regexp"
	"time"
)

const cstLayout = "2006-01-02 15:04:05"

// Notification text is read by an ops team working in China Standard Time.
var cst = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}()

// CST returns the Asia/Shanghai location used for all operator-facing time
// rendering, chart axes included.
func CST() *time.Location {
	return cst
}

// FormatCST renders t in Asia/Shanghai as YYYY-MM-DD HH:MM:SS. The zero
// time means "still open" and renders empty.
func FormatCST(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(cst).Format(cstLayout)
}

var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

// RewriteTimestamps replaces RFC 3339 timestamps embedded in s with their
// CST form. Unparseable matches and the zero-time sentinel pass through
// unchanged. Timestamps without a zone are read as UTC.
func RewriteTimestamps(s string) string {
	return timestampPattern.ReplaceAllStringFunc(s, func(m string) string {
		t, err := parseTimestamp(m)
		if err != nil || t.Year() <= 1 {
			return m
		}
		return FormatCST(t)
	})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}
