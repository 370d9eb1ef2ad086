// Package loader reads pattern, mapping, vocabulary and reference definitions
// from YAML.
//
// The sections may live in separate files or in one file; each loader only
// reads its own top-level key.
package loader

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"layerlex/internal/domain"
	"layerlex/internal/normalize"
	"layerlex/internal/registry"
)

// EntryError reports a single mapping or vocabulary entry that was skipped
type EntryError struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Reason  string `json:"reason"`
}

func (e *EntryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s[%d] %s: %s", e.Section, e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s[%d]: %s", e.Section, e.Index, e.Reason)
}

// ============================================================================
// Patterns
// ============================================================================

// PatternsYAML is the patterns section of a definitions file
type PatternsYAML struct {
	Version  int           `yaml:"version,omitempty"`
	Patterns []PatternYAML `yaml:"patterns"`
}

// PatternYAML is one pattern definition
type PatternYAML struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name,omitempty"`
	Expression  string     `yaml:"expression"`
	Confidence  float64    `yaml:"confidence"`
	Active      *bool      `yaml:"active,omitempty"` // Defaults to true
	Description string     `yaml:"description,omitempty"`
	Rules       []RuleYAML `yaml:"rules"`
}

// RuleYAML binds a field to exactly one of literal, group or default.
// A group may also carry a default used when it captures nothing.
type RuleYAML struct {
	Field   string  `yaml:"field"`
	Literal *string `yaml:"literal,omitempty"`
	Group   string  `yaml:"group,omitempty"`
	Default *string `yaml:"default,omitempty"`
	Kind    string  `yaml:"kind,omitempty"`
}

func (r RuleYAML) toDomain() (domain.FieldRule, error) {
	rule := domain.FieldRule{Field: r.Field, Kind: domain.ComponentKind(r.Kind)}
	switch {
	case r.Literal != nil && (r.Group != "" || r.Default != nil):
		return rule, errors.Errorf("field %q mixes literal with group or default", r.Field)
	case r.Literal != nil:
		rule.Source = domain.Literal(*r.Literal)
	case r.Group != "" && r.Default != nil:
		rule.Source = domain.GroupOr(r.Group, *r.Default)
	case r.Group != "":
		rule.Source = domain.Group(r.Group)
	case r.Default != nil:
		rule.Source = domain.Default(*r.Default)
	}
	if rule.Kind != domain.ComponentNone && domain.KindForField(string(rule.Kind)) == domain.ComponentNone {
		return rule, errors.Errorf("field %q has unknown kind %q", r.Field, r.Kind)
	}
	return rule, nil
}

func (p PatternYAML) toDomain() (domain.PatternDefinition, error) {
	def := domain.PatternDefinition{
		ID:          p.ID,
		Name:        p.Name,
		Expression:  p.Expression,
		Confidence:  p.Confidence,
		Active:      p.Active == nil || *p.Active,
		Description: p.Description,
		Rules:       make([]domain.FieldRule, 0, len(p.Rules)),
	}
	for _, r := range p.Rules {
		rule, err := r.toDomain()
		if err != nil {
			return def, err
		}
		def.Rules = append(def.Rules, rule)
	}
	return def, nil
}

// LoadPatterns reads pattern definitions from a YAML file
func LoadPatterns(path string) ([]domain.PatternDefinition, []*domain.PatternLoadError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read file")
	}
	return ParsePatterns(data)
}

// ParsePatterns parses pattern definitions in file order. Definitions whose
// rules cannot be represented are reported and left out; compiling the rest
// is the caller's job.
func ParsePatterns(data []byte) ([]domain.PatternDefinition, []*domain.PatternLoadError, error) {
	var doc PatternsYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse YAML")
	}

	defs := make([]domain.PatternDefinition, 0, len(doc.Patterns))
	var loadErrs []*domain.PatternLoadError
	for i, p := range doc.Patterns {
		def, err := p.toDomain()
		if err != nil {
			id := p.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			loadErrs = append(loadErrs, &domain.PatternLoadError{PatternID: id, Reason: err.Error()})
			continue
		}
		defs = append(defs, def)
	}
	return defs, loadErrs, nil
}

// ============================================================================
// Mappings
// ============================================================================

// MappingsYAML is the mappings section of a definitions file
type MappingsYAML struct {
	Mappings []MappingYAML `yaml:"mappings"`
}

// MappingYAML is one mapping candidate. Priority defaults to the tier baseline.
type MappingYAML struct {
	ID          string                   `yaml:"id"`
	Tier        string                   `yaml:"tier"`
	Priority    *int                     `yaml:"priority,omitempty"`
	When        []domain.Condition       `yaml:"when,omitempty"`
	Target      domain.CanonicalIdentity `yaml:"target"`
	Description string                   `yaml:"description,omitempty"`
}

// LoadMappings reads mapping candidates from a YAML file
func LoadMappings(path string, n *normalize.Normalizer) ([]domain.MappingCandidate, []*EntryError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read file")
	}
	return ParseMappings(data, n)
}

// ParseMappings parses mapping candidates in file order. Condition keys and
// values are normalized the same way feature attributes are, so rules written
// in any case match normalized contexts. Target codes are upper-cased.
func ParseMappings(data []byte, n *normalize.Normalizer) ([]domain.MappingCandidate, []*EntryError, error) {
	if n == nil {
		n = normalize.New()
	}
	var doc MappingsYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse YAML")
	}

	out := make([]domain.MappingCandidate, 0, len(doc.Mappings))
	var entryErrs []*EntryError
	seen := make(map[string]bool, len(doc.Mappings))
	for i, m := range doc.Mappings {
		c, reason := m.toDomain(n)
		if reason == "" && seen[c.ID] {
			reason = "duplicate mapping id"
		}
		if reason != "" {
			entryErrs = append(entryErrs, &EntryError{Section: "mappings", Index: i, ID: m.ID, Reason: reason})
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, entryErrs, nil
}

func (m MappingYAML) toDomain(n *normalize.Normalizer) (domain.MappingCandidate, string) {
	tier := domain.Tier(strings.ToLower(strings.TrimSpace(m.Tier)))
	if tier == "" {
		tier = domain.TierGlobal
	}
	c := domain.MappingCandidate{
		ID:          m.ID,
		Tier:        tier,
		Description: m.Description,
		Target:      upperIdentity(m.Target),
	}
	if c.ID == "" {
		return c, "missing mapping id"
	}
	if !tier.IsValid() {
		return c, fmt.Sprintf("unknown tier %q", m.Tier)
	}
	if m.Priority != nil {
		c.Priority = *m.Priority
	} else {
		c.Priority = domain.TierBaseline[tier]
	}
	if c.Target.IsZero() {
		return c, "empty target"
	}

	conds, reason := normalizeConditions(m.When, n)
	if reason != "" {
		return c, reason
	}
	c.Conditions = conds
	return c, ""
}

// normalizeConditions applies attribute normalization to condition keys and
// values and defaults the operator to eq
func normalizeConditions(when []domain.Condition, n *normalize.Normalizer) ([]domain.Condition, string) {
	var out []domain.Condition
	for _, cond := range when {
		cond.Attribute = n.Key(cond.Attribute)
		if cond.Attribute == "" {
			return nil, "condition without attribute"
		}
		switch cond.Operator {
		case "":
			cond.Operator = domain.OpEquals
		case domain.OpEquals, domain.OpIn, domain.OpPrefix:
		default:
			return nil, fmt.Sprintf("unknown operator %q", cond.Operator)
		}
		cond.Value = n.Value(cond.Value)
		if cond.Values != nil {
			values := make([]string, len(cond.Values))
			for i, v := range cond.Values {
				values[i] = n.Value(v)
			}
			cond.Values = values
		}
		out = append(out, cond)
	}
	return out, ""
}

func upperIdentity(id domain.CanonicalIdentity) domain.CanonicalIdentity {
	up := func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	id.Discipline = up(id.Discipline)
	id.Category = up(id.Category)
	id.Type = up(id.Type)
	id.Phase = up(id.Phase)
	id.Geometry = up(id.Geometry)
	if id.Attributes != nil {
		attrs := make([]string, len(id.Attributes))
		for i, a := range id.Attributes {
			attrs[i] = up(a)
		}
		id.Attributes = attrs
	}
	return id
}

// ============================================================================
// Vocabulary
// ============================================================================

// VocabularyYAML is the vocabulary section of a definitions file
type VocabularyYAML struct {
	Vocabulary map[string][]TermYAML `yaml:"vocabulary"`
}

// TermYAML accepts either a bare code or a {code, description} mapping
type TermYAML registry.Term

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TermYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Code = node.Value
		return nil
	}
	var full struct {
		Code        string `yaml:"code"`
		Description string `yaml:"description"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	t.Code, t.Description = full.Code, full.Description
	return nil
}

// LoadVocabulary reads the component vocabulary from a YAML file
func LoadVocabulary(path string) (map[domain.ComponentKind][]registry.Term, []*EntryError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read file")
	}
	return ParseVocabulary(data)
}

// ParseVocabulary parses the vocabulary section. Unknown component kinds are
// reported and skipped.
func ParseVocabulary(data []byte) (map[domain.ComponentKind][]registry.Term, []*EntryError, error) {
	var doc VocabularyYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse YAML")
	}

	out := make(map[domain.ComponentKind][]registry.Term, len(doc.Vocabulary))
	var entryErrs []*EntryError
	for name, terms := range doc.Vocabulary {
		kind := domain.KindForField(strings.ToLower(strings.TrimSpace(name)))
		if kind == domain.ComponentNone {
			entryErrs = append(entryErrs, &EntryError{Section: "vocabulary", ID: name, Reason: "unknown component kind"})
			continue
		}
		for _, t := range terms {
			out[kind] = append(out[kind], registry.Term(t))
		}
	}
	sort.Slice(entryErrs, func(i, j int) bool { return entryErrs[i].ID < entryErrs[j].ID })
	return out, entryErrs, nil
}

// ============================================================================
// Reference data
// ============================================================================

// ReferenceYAML is the reference section of a definitions file
type ReferenceYAML struct {
	Reference []ReferenceRuleYAML `yaml:"reference"`
}

// ReferenceRuleYAML adds attributes to every context matching When
type ReferenceRuleYAML struct {
	ID          string             `yaml:"id"`
	When        []domain.Condition `yaml:"when,omitempty"`
	Set         map[string]string  `yaml:"set"`
	Description string             `yaml:"description,omitempty"`
}

// LoadReference reads reference rules from a YAML file
func LoadReference(path string, n *normalize.Normalizer) ([]domain.ReferenceRule, []*EntryError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read file")
	}
	return ParseReference(data, n)
}

// ParseReference parses reference rules in file order. Condition and
// attribute keys and values are normalized like feature attributes.
func ParseReference(data []byte, n *normalize.Normalizer) ([]domain.ReferenceRule, []*EntryError, error) {
	if n == nil {
		n = normalize.New()
	}
	var doc ReferenceYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse YAML")
	}

	out := make([]domain.ReferenceRule, 0, len(doc.Reference))
	var entryErrs []*EntryError
	seen := make(map[string]bool, len(doc.Reference))
	for i, r := range doc.Reference {
		rule, reason := r.toDomain(n)
		if reason == "" && seen[rule.ID] {
			reason = "duplicate reference id"
		}
		if reason != "" {
			entryErrs = append(entryErrs, &EntryError{Section: "reference", Index: i, ID: r.ID, Reason: reason})
			continue
		}
		seen[rule.ID] = true
		out = append(out, rule)
	}
	return out, entryErrs, nil
}

func (r ReferenceRuleYAML) toDomain(n *normalize.Normalizer) (domain.ReferenceRule, string) {
	rule := domain.ReferenceRule{ID: r.ID, Description: r.Description}
	if rule.ID == "" {
		return rule, "missing reference id"
	}
	conds, reason := normalizeConditions(r.When, n)
	if reason != "" {
		return rule, reason
	}
	rule.Conditions = conds

	rule.Attributes = make(map[string]string, len(r.Set))
	for k, v := range r.Set {
		key := n.Key(k)
		if key == "" {
			return rule, "attribute without key"
		}
		if strings.HasPrefix(key, domain.ExtractedPrefix) {
			return rule, fmt.Sprintf("attribute %s is reserved for extraction", key)
		}
		rule.Attributes[key] = n.Value(v)
	}
	if len(rule.Attributes) == 0 {
		return rule, "no attributes to set"
	}
	return rule, ""
}
