package domain

import "sort"

// ExtractionResult is the outcome of a successful pattern match against a raw name
type ExtractionResult struct {
	PatternID      string            `json:"pattern_id"`
	RawName        string            `json:"raw_name"`
	Fields         map[string]string `json:"fields"`
	Confidence     float64           `json:"confidence"`      // After validation penalties
	BaseConfidence float64           `json:"base_confidence"` // Static confidence of the winning pattern
	HasConflicts   bool              `json:"has_conflicts"`
	// Conflicts lists every other matching pattern in rank order
	Conflicts          []string             `json:"conflicts,omitempty"`
	ValidationFailures []ValidationMismatch `json:"validation_failures,omitempty"`
	// FieldKinds records the component kind each populated field was
	// declared as by the winning pattern's rules
	FieldKinds map[string]ComponentKind `json:"field_kinds,omitempty"`
}

// Field returns an extracted field value
func (r *ExtractionResult) Field(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// KindOf returns the component kind of an extracted field. A kind declared by
// the pattern rule wins over the one implied by the field name.
func (r *ExtractionResult) KindOf(field string) ComponentKind {
	if r != nil {
		if kind, ok := r.FieldKinds[field]; ok {
			return kind
		}
	}
	return KindForField(field)
}

// Penalized returns true if any extracted value failed registry validation
func (r *ExtractionResult) Penalized() bool {
	return r != nil && len(r.ValidationFailures) > 0
}

// FieldNames returns the populated field names in sorted order
func (r *ExtractionResult) FieldNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
