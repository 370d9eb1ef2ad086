package domain

// ReferenceRule is project or spatial reference data: when every condition
// holds, the rule contributes its attributes to the feature context. Rules
// without conditions apply to every context.
type ReferenceRule struct {
	ID          string            `json:"id" yaml:"id"`
	Conditions  []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Attributes  map[string]string `json:"attributes" yaml:"attributes"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Matches reports whether every condition is satisfied by the context
func (r ReferenceRule) Matches(fc FeatureContext) bool {
	for _, c := range r.Conditions {
		if !c.SatisfiedBy(fc) {
			return false
		}
	}
	return true
}
