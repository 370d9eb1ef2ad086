// Package reference injects project and spatial reference attributes into a
// feature context before extraction and resolution.
package reference

import (
	"sort"
	"sync/atomic"

	"layerlex/internal/domain"
)

// RuleSet is an immutable, ordered set of reference rules
type RuleSet struct {
	rules []domain.ReferenceRule
}

// NewRuleSet copies rules in order
func NewRuleSet(rules []domain.ReferenceRule) *RuleSet {
	s := &RuleSet{rules: make([]domain.ReferenceRule, len(rules))}
	for i, r := range rules {
		attrs := make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = v
		}
		r.Attributes = attrs
		r.Conditions = append([]domain.Condition(nil), r.Conditions...)
		s.rules[i] = r
	}
	return s
}

// Len returns the number of rules
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Attributes returns what the matching rules contribute to fc. Rules are
// evaluated against fc as supplied, in load order; the first rule to set a
// key wins and keys already present in fc are never returned.
func (s *RuleSet) Attributes(fc domain.FeatureContext) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for _, r := range s.rules {
		if !r.Matches(fc) {
			continue
		}
		keys := make([]string, 0, len(r.Attributes))
		for k := range r.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, set := out[k]; set || fc.Has(k) {
				continue
			}
			out[k] = r.Attributes[k]
		}
	}
	return out
}

// Store holds the current rule set. It implements pipeline.ContextInjector
// and is safe for concurrent use while Swap installs a new set.
type Store struct {
	current atomic.Pointer[RuleSet]
}

// NewStore returns a store holding set (nil means no rules)
func NewStore(set *RuleSet) *Store {
	s := &Store{}
	if set == nil {
		set = NewRuleSet(nil)
	}
	s.current.Store(set)
	return s
}

// Load returns the current rule set
func (s *Store) Load() *RuleSet {
	return s.current.Load()
}

// Swap installs set
func (s *Store) Swap(set *RuleSet) {
	if set == nil {
		set = NewRuleSet(nil)
	}
	s.current.Store(set)
}

// Inject returns the reference attributes for fc from the current rule set
func (s *Store) Inject(fc domain.FeatureContext) (map[string]string, error) {
	return s.Load().Attributes(fc), nil
}
