package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// regexMeta is the set of characters that promote a pattern from exact
// comparison to regular-expression matching.
const regexMeta = `.*+?^$()[]{}|\`

var (
	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

func compileCached(pattern string) (*regexp.Regexp, error) {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re, nil
}

// Pattern matches a single label value. The source string is compiled as a
// regex iff it contains a character from regexMeta, so `db-01` compares
// byte-for-byte while `db-\d+` searches anywhere in the value and anchors
// only where the author wrote anchors.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

func CompilePattern(s string) (Pattern, error) {
	if !strings.ContainsAny(s, regexMeta) {
		return Pattern{raw: s}, nil
	}
	re, err := compileCached(s)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: s, re: re}, nil
}

func (p Pattern) MatchString(v string) bool {
	if p.re != nil {
		return p.re.MatchString(v)
	}
	return p.raw == v
}

func (p Pattern) IsRegex() bool { return p.re != nil }

func (p Pattern) String() string { return p.raw }

type labelPattern struct {
	key     string
	pattern Pattern
}

// LabelMatcher is a compiled conjunction of per-label patterns. A missing
// label never matches.
type LabelMatcher struct {
	patterns []labelPattern
}

// CompileMatch compiles a label-key to pattern mapping. Keys are ordered so
// evaluation and error reporting are deterministic.
func CompileMatch(match map[string]string) (*LabelMatcher, error) {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := &LabelMatcher{patterns: make([]labelPattern, 0, len(keys))}
	for _, k := range keys {
		p, err := CompilePattern(match[k])
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q for label %q: %w", match[k], k, err)
		}
		m.patterns = append(m.patterns, labelPattern{key: k, pattern: p})
	}
	return m, nil
}

func (m *LabelMatcher) Matches(labels map[string]string) bool {
	for _, lp := range m.patterns {
		v, ok := labels[lp.key]
		if !ok || !lp.pattern.MatchString(v) {
			return false
		}
	}
	return true
}
