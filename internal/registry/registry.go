// Package registry validates extracted component values against the
// canonical naming vocabulary.
package registry

import (
	"sort"
	"strings"

	"layerlex/internal/domain"
)

// Term is one canonical code of a component vocabulary
type Term struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Vocabulary holds the canonical codes per component kind. Lookups are case
// insensitive. A kind with no terms is unconstrained and accepts any value.
type Vocabulary struct {
	terms map[domain.ComponentKind]map[string]Term
}

// NewVocabulary builds a vocabulary from terms grouped by kind
func NewVocabulary(entries map[domain.ComponentKind][]Term) *Vocabulary {
	v := &Vocabulary{terms: make(map[domain.ComponentKind]map[string]Term, len(entries))}
	for kind, terms := range entries {
		if len(terms) == 0 {
			continue
		}
		set := make(map[string]Term, len(terms))
		for _, t := range terms {
			code := strings.ToUpper(strings.TrimSpace(t.Code))
			if code == "" {
				continue
			}
			t.Code = code
			set[code] = t
		}
		v.terms[kind] = set
	}
	return v
}

// ValidateComponent reports whether value is a known code for kind
func (v *Vocabulary) ValidateComponent(kind domain.ComponentKind, value string) bool {
	if v == nil {
		return true
	}
	set, constrained := v.terms[kind]
	if !constrained {
		return true
	}
	_, ok := set[strings.ToUpper(strings.TrimSpace(value))]
	return ok
}

// Lookup returns the term for a code
func (v *Vocabulary) Lookup(kind domain.ComponentKind, code string) (Term, bool) {
	if v == nil {
		return Term{}, false
	}
	t, ok := v.terms[kind][strings.ToUpper(strings.TrimSpace(code))]
	return t, ok
}

// Kinds returns the constrained kinds in sorted order
func (v *Vocabulary) Kinds() []domain.ComponentKind {
	if v == nil {
		return nil
	}
	kinds := make([]domain.ComponentKind, 0, len(v.terms))
	for k := range v.terms {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Terms returns the terms of kind sorted by code
func (v *Vocabulary) Terms(kind domain.ComponentKind) []Term {
	if v == nil {
		return nil
	}
	set := v.terms[kind]
	out := make([]Term, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the total number of terms
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	n := 0
	for _, set := range v.terms {
		n += len(set)
	}
	return n
}
