package templates

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	alertmanager "github.com/prometheus/alertmanager/template"
)

var (
	DefaultFuncs = funcMap()
)

func funcMap() template.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")

	for k, v := range alertmanager.DefaultFuncs {
		f[k] = v
	}

	f["url_to_link"] = URLToLink
	f["urlToLink"] = URLToLink
	f["statusText"] = StatusText

	return f
}

var urlPattern = regexp.MustCompile(`https?://[^\s)]+`)

// URLToLink wraps bare URLs in s as HTML anchors so chat clients render
// them clickable. Trailing punctuation stays outside the anchor.
func URLToLink(s string) string {
	return urlPattern.ReplaceAllStringFunc(s, func(m string) string {
		u := strings.TrimRight(m, `.,;:!?)`)
		tail := m[len(u):]
		return fmt.Sprintf(`<a href="%s">%s</a>`, u, u) + tail
	})
}
