package routing

import (
	"fmt"
)

// Rule is one entry of the ordered routing table as it appears in
// configuration.
type Rule struct {
	Match   map[string]string `yaml:"match,omitempty" json:"match,omitempty"`
	Default bool              `yaml:"default,omitempty" json:"default,omitempty"`
	SendTo  []string          `yaml:"send_to" json:"send_to"`
}

type compiledRule struct {
	matcher *LabelMatcher
	def     bool
	sendTo  []string
}

// Router evaluates alerts against the rule table. All patterns are compiled
// up front, so a Router that constructed successfully cannot fail at match
// time and is safe for concurrent use.
type Router struct {
	rules []compiledRule
}

func NewRouter(rules []Rule) (*Router, error) {
	r := &Router{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		if len(rule.SendTo) == 0 {
			return nil, fmt.Errorf("routing rule %d: send_to is empty", i)
		}
		if !rule.Default && len(rule.Match) == 0 {
			return nil, fmt.Errorf("routing rule %d: no match conditions and not default", i)
		}
		m, err := CompileMatch(rule.Match)
		if err != nil {
			return nil, fmt.Errorf("routing rule %d: %w", i, err)
		}
		r.rules = append(r.rules, compiledRule{matcher: m, def: rule.Default, sendTo: rule.SendTo})
	}
	return r, nil
}

// Route returns the channel IDs of every rule matching labels, in rule
// declaration order with duplicates dropped. An empty result means no rule
// matched.
func (r *Router) Route(labels map[string]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, rule := range r.rules {
		if !rule.def && !rule.matcher.Matches(labels) {
			continue
		}
		for _, ch := range rule.sendTo {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}

// Len reports the number of rules in the table.
func (r *Router) Len() int { return len(r.rules) }
