package extract

import (
	"fmt"
	"sort"

	"layerlex/internal/domain"
)

// DefaultPenaltyFactor is applied to the confidence once per field that
// fails registry validation
const DefaultPenaltyFactor = 0.5

// Validator confirms extracted values against a canonical vocabulary
type Validator interface {
	ValidateComponent(kind domain.ComponentKind, value string) bool
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(kind domain.ComponentKind, value string) bool

// ValidateComponent calls f
func (f ValidatorFunc) ValidateComponent(kind domain.ComponentKind, value string) bool {
	return f(kind, value)
}

// AlwaysValid is used when no registry is configured
var AlwaysValid Validator = ValidatorFunc(func(domain.ComponentKind, string) bool { return true })

// Option configures an Extractor
type Option func(*Extractor)

// WithValidator sets the component validator. nil means always valid.
func WithValidator(v Validator) Option {
	return func(e *Extractor) {
		if v == nil {
			v = AlwaysValid
		}
		e.validator = v
	}
}

// WithPenaltyFactor sets the multiplier applied per validation failure
func WithPenaltyFactor(f float64) Option {
	return func(e *Extractor) {
		e.penalty = f
	}
}

// WithTieBreak sets the ordering used between equally confident patterns
func WithTieBreak(tb domain.TieBreak) Option {
	return func(e *Extractor) {
		e.tieBreak = tb
	}
}

// Extractor evaluates a pattern snapshot against raw names.
// It is safe for concurrent use.
type Extractor struct {
	store     *Store
	validator Validator
	penalty   float64
	tieBreak  domain.TieBreak
}

// New creates an extractor reading patterns from store
func New(store *Store, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		store:     store,
		validator: AlwaysValid,
		penalty:   DefaultPenaltyFactor,
		tieBreak:  domain.TieBreakDeclarationOrder,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = NewStore(nil)
	}
	if e.penalty <= 0 || e.penalty > 1 {
		return nil, fmt.Errorf("penalty factor %v outside (0, 1]", e.penalty)
	}
	tb, err := domain.ParseTieBreak(string(e.tieBreak), domain.TieBreakDeclarationOrder)
	if err != nil {
		return nil, err
	}
	e.tieBreak = tb
	return e, nil
}

// Store returns the snapshot store the extractor reads from
func (e *Extractor) Store() *Store {
	return e.store
}

// Extract matches rawName against the current snapshot. The boolean is false
// when no active pattern matches (NoMatch); callers must handle that path.
func (e *Extractor) Extract(rawName string) (*domain.ExtractionResult, bool) {
	return e.ExtractWith(e.store.Load(), rawName)
}

type candidate struct {
	pattern *domain.Pattern
	fields  map[string]string
}

// ExtractWith matches rawName against a specific snapshot
func (e *Extractor) ExtractWith(set *PatternSet, rawName string) (*domain.ExtractionResult, bool) {
	if rawName == "" || set == nil {
		return nil, false
	}

	var matched []candidate
	for _, p := range set.active {
		if fields, ok := p.Match(rawName); ok {
			matched = append(matched, candidate{pattern: p, fields: fields})
		}
	}
	if len(matched) == 0 {
		return nil, false
	}

	e.rank(matched)

	winner := matched[0]
	result := &domain.ExtractionResult{
		PatternID:      winner.pattern.ID,
		RawName:        rawName,
		Fields:         winner.fields,
		Confidence:     winner.pattern.Confidence,
		BaseConfidence: winner.pattern.Confidence,
	}

	if len(matched) > 1 {
		result.HasConflicts = true
		result.Conflicts = make([]string, 0, len(matched)-1)
		for _, m := range matched[1:] {
			result.Conflicts = append(result.Conflicts, m.pattern.ID)
		}
	}

	e.validate(winner.pattern, result)

	return result, true
}

// rank orders matches by confidence, then by the configured tie-break
func (e *Extractor) rank(matched []candidate) {
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].pattern, matched[j].pattern
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if e.tieBreak == domain.TieBreakIdentifier {
			return a.ID < b.ID
		}
		return a.Position < b.Position
	})
}

// validate checks populated canonical fields in rule order and applies the
// penalty once per failure. Extracted values are never changed. The kind
// each field was checked as is recorded on the result.
func (e *Extractor) validate(p *domain.Pattern, result *domain.ExtractionResult) {
	for _, rule := range p.Rules {
		kind := rule.ValidationKind()
		if kind == domain.ComponentNone {
			continue
		}
		value, ok := result.Fields[rule.Field]
		if !ok {
			continue
		}
		if _, seen := result.FieldKinds[rule.Field]; seen {
			continue
		}
		if result.FieldKinds == nil {
			result.FieldKinds = make(map[string]domain.ComponentKind)
		}
		result.FieldKinds[rule.Field] = kind
		if e.validator.ValidateComponent(kind, value) {
			continue
		}
		result.Confidence *= e.penalty
		result.ValidationFailures = append(result.ValidationFailures, domain.ValidationMismatch{
			Field: rule.Field,
			Kind:  kind,
			Value: value,
		})
	}
}
