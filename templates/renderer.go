package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Config is the templates configuration block.
type Config struct {
	Dir string `yaml:"dir" json:"dir"`

	// Default, when set, names the template used by channels that do not
	// pick one, instead of the per-type built-in.
	Default string `yaml:"default" json:"default"`
}

// Renderer resolves template names within one flat directory, layered over
// the built-in defaults. Everything parses at construction time, so a
// renderer that loaded successfully cannot fail on syntax at send time.
type Renderer struct {
	templates map[string]*template.Template
	logger    log.Logger
}

func NewRenderer(cfg Config, logger log.Logger) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
		logger:    logger,
	}
	for name, text := range defaultTemplates {
		if err := r.add(name, text); err != nil {
			return nil, fmt.Errorf("built-in template %s: %w", name, err)
		}
	}
	if cfg.Dir == "" {
		return r, nil
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			level.Warn(r.logger).Log("msg", "Template directory does not exist, using built-in templates only", "dir", cfg.Dir)
			return r, nil
		}
		return nil, fmt.Errorf("read template directory %s: %w", cfg.Dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(cfg.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		if err := r.add(entry.Name(), string(content)); err != nil {
			return nil, fmt.Errorf("template %s: %w", entry.Name(), err)
		}
	}
	return r, nil
}

func (r *Renderer) add(name, text string) error {
	tmpl, err := template.New(name).Option("missingkey=zero").Funcs(DefaultFuncs).Parse(text)
	if err != nil {
		return err
	}
	r.templates[name] = tmpl
	return nil
}

// Render executes the named template. Templates named *.json additionally
// get RFC 3339 timestamps in their output rewritten to CST.
func (r *Renderer) Render(name string, ctx Context) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q is not defined", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	// missingkey=zero still prints "<no value>" for untyped nils; scrub
	// them so unknown keys read as empty.
	out := strings.ReplaceAll(buf.String(), "<no value>", "")
	if strings.HasSuffix(name, ".json") {
		out = RewriteTimestamps(out)
	}
	return out, nil
}

// Has reports whether name resolves to a loaded template.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Names lists the loaded template names in sorted order.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
