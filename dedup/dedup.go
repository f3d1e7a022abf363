package dedup

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/routing"
)

// DefaultConfig is the jenkins_dedup block with nothing overridden.
var DefaultConfig = Config{
	Enabled:         true,
	TTLSeconds:      900,
	ClearOnResolved: true,
}

// Config is the jenkins_dedup configuration block. Match, when present,
// replaces the built-in build-system predicate.
type Config struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	TTLSeconds      int               `yaml:"ttl_seconds" json:"ttl_seconds"`
	ClearOnResolved bool              `yaml:"clear_on_resolved" json:"clear_on_resolved"`
	Match           map[string]string `yaml:"match,omitempty" json:"match,omitempty"`
}

func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = DefaultConfig
	type plain Config
	return unmarshal((*plain)(c))
}

// Build-system alerts repeat on every poll cycle, so without an override the
// scope is anything delivered through a jenkins receiver or named after it.
var defaultNamePattern = regexp.MustCompile(`.*[Jj]enkins.*`)

// Deduper suppresses repeat firing notifications from build-system alerts
// within a TTL window. A single mutex serializes inspection and insertion,
// so at most one caller admits a given key per window.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]time.Time

	enabled         bool
	ttl             time.Duration
	clearOnResolved bool
	scope           *routing.LabelMatcher
	clk             clock.Clock
}

func New(cfg Config, clk clock.Clock) (*Deduper, error) {
	d := &Deduper{
		entries:         make(map[string]time.Time),
		enabled:         cfg.Enabled,
		ttl:             time.Duration(cfg.TTLSeconds) * time.Second,
		clearOnResolved: cfg.ClearOnResolved,
		clk:             clk,
	}
	if d.ttl <= 0 {
		d.ttl = time.Duration(DefaultConfig.TTLSeconds) * time.Second
	}
	if len(cfg.Match) > 0 {
		m, err := routing.CompileMatch(cfg.Match)
		if err != nil {
			return nil, fmt.Errorf("jenkins_dedup: %w", err)
		}
		d.scope = m
	}
	return d, nil
}

// InScope reports whether the alert falls under dedup at all.
func (d *Deduper) InScope(labels map[string]string) bool {
	if d.scope != nil {
		return d.scope.Matches(labels)
	}
	if strings.Contains(labels[alert.ReceiverLabel], "jenkins") {
		return true
	}
	return defaultNamePattern.MatchString(labels["alertname"])
}

// Admit decides whether a should be forwarded. Firing alerts whose key was
// seen inside the TTL window are suppressed. Resolved alerts always pass
// and, with clear_on_resolved, drop the window so the next firing goes out
// immediately.
func (d *Deduper) Admit(a *alert.Alert) bool {
	if !d.enabled || !d.InScope(a.Labels) {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clk.Now()
	d.purgeLocked(now)

	key := d.key(a)
	if a.Resolved() {
		if d.clearOnResolved {
			delete(d.entries, key)
		}
		return true
	}
	if _, dup := d.entries[key]; dup {
		return false
	}
	d.entries[key] = now
	return true
}

// Len reports the number of live entries after purging expired ones.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purgeLocked(d.clk.Now())
	return len(d.entries)
}

func (d *Deduper) purgeLocked(now time.Time) {
	for k, seen := range d.entries {
		if now.Sub(seen) >= d.ttl {
			delete(d.entries, k)
		}
	}
}

// key prefers the producer fingerprint; otherwise it hashes the identifying
// labels in a fixed order so the result does not depend on map iteration.
func (d *Deduper) key(a *alert.Alert) string {
	if a.Fingerprint != "" {
		return a.Fingerprint
	}
	h := sha1.New()
	h.Write([]byte(strings.Join([]string{
		a.Name(),
		a.Labels["jenkins_job"],
		a.Labels["job"],
		a.Labels["instance"],
	}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
