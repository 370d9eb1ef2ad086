package domain

import (
	"slices"
	"strings"
)

// Tier is the administrative scope of a mapping candidate
type Tier string

const (
	TierProject    Tier = "project"    // Project-specific override
	TierContextual Tier = "contextual" // Spatial or contextual rule
	TierGlobal     Tier = "global"     // Organisation-wide default
)

// TierBaseline maps tiers to the priority used when a rule omits one
var TierBaseline = map[Tier]int{
	TierProject:    1000,
	TierContextual: 500,
	TierGlobal:     100,
}

// IsValid returns true for a known tier
func (t Tier) IsValid() bool {
	_, ok := TierBaseline[t]
	return ok
}

// Operator is the predicate a Condition applies to an attribute value
type Operator string

const (
	OpEquals Operator = "eq"     // Exact match (the default)
	OpIn     Operator = "in"     // Value is one of Values
	OpPrefix Operator = "prefix" // Value starts with Value
)

// Condition is a single attribute predicate of a mapping candidate
type Condition struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Operator  Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values    []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Eq returns an equality condition
func Eq(attribute, value string) Condition {
	return Condition{Attribute: attribute, Operator: OpEquals, Value: value}
}

// SatisfiedBy reports whether the context satisfies the condition.
// A condition on an attribute absent from the context is never satisfied.
func (c Condition) SatisfiedBy(fc FeatureContext) bool {
	actual, ok := fc.Get(c.Attribute)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEquals, "":
		return actual == c.Value
	case OpIn:
		return slices.Contains(c.Values, actual)
	case OpPrefix:
		return strings.HasPrefix(actual, c.Value)
	default:
		return false
	}
}

func (c Condition) String() string {
	switch c.Operator {
	case OpIn:
		return c.Attribute + " in [" + strings.Join(c.Values, ",") + "]"
	case OpPrefix:
		return c.Attribute + " ^= " + c.Value
	default:
		return c.Attribute + " = " + c.Value
	}
}

// CanonicalIdentity is the standards-compliant structured name a raw input maps to
type CanonicalIdentity struct {
	Discipline string   `json:"discipline" yaml:"discipline"`
	Category   string   `json:"category" yaml:"category"`
	Type       string   `json:"type" yaml:"type"`
	Attributes []string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Phase      string   `json:"phase,omitempty" yaml:"phase,omitempty"`
	Geometry   string   `json:"geometry,omitempty" yaml:"geometry,omitempty"`
}

// Name renders the identity as DISCIPLINE-CATEGORY-TYPE[-ATTR...]-PHASE,
// skipping empty segments. Geometry is not part of the name.
func (c CanonicalIdentity) Name() string {
	parts := make([]string, 0, 4+len(c.Attributes))
	for _, p := range []string{c.Discipline, c.Category, c.Type} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for _, a := range c.Attributes {
		if a != "" {
			parts = append(parts, a)
		}
	}
	if c.Phase != "" {
		parts = append(parts, c.Phase)
	}
	return strings.ToUpper(strings.Join(parts, "-"))
}

// IsZero returns true if no segment is set
func (c CanonicalIdentity) IsZero() bool {
	return c.Discipline == "" && c.Category == "" && c.Type == "" &&
		len(c.Attributes) == 0 && c.Phase == "" && c.Geometry == ""
}

// MappingCandidate is one prioritized rule that maps a context to an identity
type MappingCandidate struct {
	ID          string            `json:"id" yaml:"id"`
	Tier        Tier              `json:"tier" yaml:"tier"`
	Priority    int               `json:"priority" yaml:"priority"` // Higher wins
	Conditions  []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Target      CanonicalIdentity `json:"target" yaml:"target"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Specificity is the number of conditions the candidate requires
func (m MappingCandidate) Specificity() int {
	return len(m.Conditions)
}

// Matches reports whether every condition is satisfied by the context.
// Candidates without conditions match any context.
func (m MappingCandidate) Matches(fc FeatureContext) bool {
	for _, c := range m.Conditions {
		if !c.SatisfiedBy(fc) {
			return false
		}
	}
	return true
}

// Compatible reports whether the candidate is at least partially compatible
// with the context: a wildcard, or at least one condition satisfied
func (m MappingCandidate) Compatible(fc FeatureContext) bool {
	if len(m.Conditions) == 0 {
		return true
	}
	for _, c := range m.Conditions {
		if c.SatisfiedBy(fc) {
			return true
		}
	}
	return false
}

// ResolvedMapping is the single winning candidate for a context
type ResolvedMapping struct {
	Candidate   MappingCandidate `json:"candidate"`
	Specificity int              `json:"specificity"`
	Priority    int              `json:"priority"`
	Eligible    int              `json:"eligible"` // Number of eligible candidates considered
	// Ambiguous is set when other eligible candidates share both the winner's
	// priority and specificity; TiedWith names them
	Ambiguous bool     `json:"ambiguous"`
	TiedWith  []string `json:"tied_with,omitempty"`
}
