// Package filter decides which alerts are worth persisting.
package filter

import "strings"

// Candidate is the merged alert, classification and sky map metadata a rule is evaluated
// against. Nil fields are unknown.
type Candidate struct {
	AlertType  string
	BNS        *float64
	NSBH       *float64
	FAR        *float64
	DistMean   *float64
	Area90     *float64
	HasNS      *float64
	HasRemnant *float64
}

// Rule is a named conjunction of predicates. Nil thresholds are not evaluated.
type Rule struct {
	Name          string   `mapstructure:"name" yaml:"name"`
	AlertTypes    []string `mapstructure:"alert_type" yaml:"alert_type"`
	MinNSMerger   *float64 `mapstructure:"ns_merger" yaml:"ns_merger"`
	MaxFAR        *float64 `mapstructure:"far" yaml:"far"`
	MaxDistance   *float64 `mapstructure:"distance" yaml:"distance"`
	MaxArea90     *float64 `mapstructure:"area90" yaml:"area90"`
	MinHasNS      *float64 `mapstructure:"has_ns" yaml:"has_ns"`
	MinHasRemnant *float64 `mapstructure:"has_remnant" yaml:"has_remnant"`
}

// Passes reports whether every defined predicate of the rule holds for c.
// A predicate whose input is unknown fails.
func (r Rule) Passes(c Candidate) bool {
	if len(r.AlertTypes) > 0 && !containsFold(r.AlertTypes, c.AlertType) {
		return false
	}
	if r.MinNSMerger != nil {
		if c.BNS == nil || c.NSBH == nil || *c.BNS+*c.NSBH < *r.MinNSMerger {
			return false
		}
	}
	if !atMost(c.FAR, r.MaxFAR) || !atMost(c.DistMean, r.MaxDistance) || !atMost(c.Area90, r.MaxArea90) {
		return false
	}
	return atLeast(c.HasNS, r.MinHasNS) && atLeast(c.HasRemnant, r.MinHasRemnant)
}

// Filter is an ordered set of rules combined with OR.
type Filter struct {
	rules []Rule
}

// New returns a filter over rules. With no rules every alert is allowed.
func New(rules []Rule) *Filter {
	return &Filter{rules: rules}
}

// Allow reports whether any rule passes and the name of the first one that did.
func (f *Filter) Allow(c Candidate) (bool, string) {
	if f == nil || len(f.rules) == 0 {
		return true, ""
	}
	for _, r := range f.rules {
		if r.Passes(c) {
			return true, r.Name
		}
	}
	return false, ""
}

// Len returns the number of configured rules.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rules)
}

func atMost(v, limit *float64) bool {
	if limit == nil {
		return true
	}
	return v != nil && *v <= *limit
}

func atLeast(v, limit *float64) bool {
	if limit == nil {
		return true
	}
	return v != nil && *v >= *limit
}

func containsFold(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
