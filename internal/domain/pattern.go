package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// ComponentKind identifies a canonical vocabulary a field value belongs to
type ComponentKind string

const (
	ComponentNone       ComponentKind = ""
	ComponentDiscipline ComponentKind = "discipline"
	ComponentCategory   ComponentKind = "category"
	ComponentType       ComponentKind = "type"
	ComponentPhase      ComponentKind = "phase"
	ComponentGeometry   ComponentKind = "geometry"
)

// ValidatedKinds lists the component kinds checked against the registry
var ValidatedKinds = []ComponentKind{
	ComponentDiscipline,
	ComponentCategory,
	ComponentType,
	ComponentPhase,
	ComponentGeometry,
}

// KindForField returns the component kind implied by a field name.
// Fields that do not name a canonical component return ComponentNone.
func KindForField(field string) ComponentKind {
	for _, k := range ValidatedKinds {
		if string(k) == field {
			return k
		}
	}
	return ComponentNone
}

// SourceKind tags the variant held by a FieldSource
type SourceKind string

const (
	SourceNone    SourceKind = ""        // No source declared; the field is never set
	SourceLiteral SourceKind = "literal" // Fixed value written by the pattern author
	SourceGroup   SourceKind = "group"   // Named or numbered capture group
	SourceDefault SourceKind = "default" // Documented default when nothing else applies
)

// FieldSource describes where an extracted field gets its value.
//
// Literal and default sources carry the value in Value. Group sources carry the
// group name (or decimal index) in Group and may declare a Default used when the
// group did not capture anything.
type FieldSource struct {
	Kind    SourceKind `json:"kind" yaml:"kind"`
	Value   string     `json:"value,omitempty" yaml:"value,omitempty"`
	Group   string     `json:"group,omitempty" yaml:"group,omitempty"`
	Default *string    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Literal returns a literal field source
func Literal(v string) FieldSource {
	return FieldSource{Kind: SourceLiteral, Value: v}
}

// Group returns a capture-group field source without a fallback
func Group(name string) FieldSource {
	return FieldSource{Kind: SourceGroup, Group: name}
}

// GroupOr returns a capture-group field source that falls back to def
func GroupOr(name, def string) FieldSource {
	return FieldSource{Kind: SourceGroup, Group: name, Default: &def}
}

// Default returns a default-only field source
func Default(v string) FieldSource {
	return FieldSource{Kind: SourceDefault, Value: v}
}

// Evaluate resolves the source against a match of re. submatches must be the
// result of re.FindStringSubmatch. The second return value is false when the
// field has no resolvable source and must be left unset.
func (s FieldSource) Evaluate(re *regexp.Regexp, submatches []string) (string, bool) {
	switch s.Kind {
	case SourceLiteral:
		return s.Value, true
	case SourceDefault:
		return s.Value, true
	case SourceGroup:
		if idx := GroupIndex(re, s.Group); idx > 0 && idx < len(submatches) && submatches[idx] != "" {
			return submatches[idx], true
		}
		if s.Default != nil {
			return *s.Default, true
		}
	}
	return "", false
}

// GroupIndex returns the submatch index for a group name or decimal index,
// or -1 if the expression defines no such group
func GroupIndex(re *regexp.Regexp, group string) int {
	if re == nil || group == "" {
		return -1
	}
	if n, err := strconv.Atoi(group); err == nil {
		if n > 0 && n <= re.NumSubexp() {
			return n
		}
		return -1
	}
	return re.SubexpIndex(group)
}

// FieldRule binds an output field to its source
type FieldRule struct {
	Field  string        `json:"field" yaml:"field"`
	Source FieldSource   `json:"source" yaml:"source"`
	Kind   ComponentKind `json:"kind,omitempty" yaml:"kind,omitempty"` // Overrides KindForField
}

// ValidationKind returns the component kind the field is validated as
func (r FieldRule) ValidationKind() ComponentKind {
	if r.Kind != ComponentNone {
		return r.Kind
	}
	return KindForField(r.Field)
}

// PatternDefinition is the uncompiled form of a pattern as supplied by a store
type PatternDefinition struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Expression  string      `json:"expression" yaml:"expression"`
	Rules       []FieldRule `json:"rules" yaml:"rules"`
	Confidence  float64     `json:"confidence" yaml:"confidence"` // 0 - 100
	Active      bool        `json:"active" yaml:"active"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Pattern is a compiled, immutable extraction pattern
type Pattern struct {
	PatternDefinition
	Position int // Load order, used as the declaration-order tie-break
	matcher  *regexp.Regexp
}

// NewPattern compiles a definition. position is the pattern's load order.
func NewPattern(def PatternDefinition, position int) (*Pattern, error) {
	if def.ID == "" {
		return nil, &PatternLoadError{PatternID: fmt.Sprintf("#%d", position), Reason: "missing pattern id"}
	}
	if def.Confidence < 0 || def.Confidence > 100 {
		return nil, &PatternLoadError{
			PatternID: def.ID,
			Reason:    fmt.Sprintf("confidence %.2f outside 0-100", def.Confidence),
		}
	}
	re, err := regexp.Compile(def.Expression)
	if err != nil {
		return nil, &PatternLoadError{PatternID: def.ID, Reason: "invalid expression", Err: err}
	}
	for _, rule := range def.Rules {
		if rule.Field == "" {
			return nil, &PatternLoadError{PatternID: def.ID, Reason: "rule without field name"}
		}
		switch rule.Source.Kind {
		case SourceNone, SourceLiteral, SourceDefault:
		case SourceGroup:
			if GroupIndex(re, rule.Source.Group) < 0 {
				return nil, &PatternLoadError{
					PatternID: def.ID,
					Reason:    fmt.Sprintf("field %q references unknown group %q", rule.Field, rule.Source.Group),
				}
			}
		default:
			return nil, &PatternLoadError{
				PatternID: def.ID,
				Reason:    fmt.Sprintf("field %q has unknown source kind %q", rule.Field, rule.Source.Kind),
			}
		}
	}

	rules := make([]FieldRule, len(def.Rules))
	copy(rules, def.Rules)
	def.Rules = rules

	return &Pattern{PatternDefinition: def, Position: position, matcher: re}, nil
}

// Match runs the pattern against a raw name and returns the extracted fields.
// ok is false when the expression does not match.
func (p *Pattern) Match(raw string) (fields map[string]string, ok bool) {
	sub := p.matcher.FindStringSubmatch(raw)
	if sub == nil {
		return nil, false
	}
	fields = make(map[string]string, len(p.Rules))
	for _, rule := range p.Rules {
		if v, ok := rule.Source.Evaluate(p.matcher, sub); ok {
			fields[rule.Field] = v
		}
	}
	return fields, true
}

// Matcher returns the compiled expression
func (p *Pattern) Matcher() *regexp.Regexp {
	return p.matcher
}
