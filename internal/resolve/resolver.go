package resolve

import (
	"sort"

	"layerlex/internal/domain"
)

// Option configures a Resolver
type Option func(*Resolver)

// WithTieBreak sets the secondary key used after priority and specificity
func WithTieBreak(tb domain.TieBreak) Option {
	return func(r *Resolver) {
		r.tieBreak = tb
	}
}

// Resolver picks the winning mapping candidate. It holds no mutable state.
type Resolver struct {
	tieBreak domain.TieBreak
}

// New creates a resolver. The default secondary key is the candidate identifier.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{tieBreak: domain.TieBreakIdentifier}
	for _, opt := range opts {
		opt(r)
	}
	tb, err := domain.ParseTieBreak(string(r.tieBreak), domain.TieBreakIdentifier)
	if err != nil {
		return nil, err
	}
	r.tieBreak = tb
	return r, nil
}

// TieBreak returns the configured secondary key
func (r *Resolver) TieBreak() domain.TieBreak {
	return r.tieBreak
}

// ranked pairs a candidate with its supply position
type ranked struct {
	candidate domain.MappingCandidate
	position  int
}

// Eligible returns the candidates whose conditions are all satisfied, in
// supply order. The input slice is not modified.
func Eligible(fc domain.FeatureContext, candidates []domain.MappingCandidate) []domain.MappingCandidate {
	var out []domain.MappingCandidate
	for _, c := range candidates {
		if c.Matches(fc) {
			out = append(out, c)
		}
	}
	return out
}

// Rank returns the eligible candidates in resolution order
func (r *Resolver) Rank(fc domain.FeatureContext, candidates []domain.MappingCandidate) []domain.MappingCandidate {
	rs := r.rank(fc, candidates)
	out := make([]domain.MappingCandidate, len(rs))
	for i, c := range rs {
		out[i] = c.candidate
	}
	return out
}

func (r *Resolver) rank(fc domain.FeatureContext, candidates []domain.MappingCandidate) []ranked {
	var rs []ranked
	for i, c := range candidates {
		if c.Matches(fc) {
			rs = append(rs, ranked{candidate: c, position: i})
		}
	}

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.candidate.Priority != b.candidate.Priority {
			return a.candidate.Priority > b.candidate.Priority
		}
		if sa, sb := a.candidate.Specificity(), b.candidate.Specificity(); sa != sb {
			return sa > sb
		}
		if r.tieBreak == domain.TieBreakDeclarationOrder {
			return a.position < b.position
		}
		if a.candidate.ID != b.candidate.ID {
			return a.candidate.ID < b.candidate.ID
		}
		return a.position < b.position
	})
	return rs
}

// Resolve returns the single winning candidate for fc. The boolean is false
// when no candidate is eligible (NoMapping).
func (r *Resolver) Resolve(fc domain.FeatureContext, candidates []domain.MappingCandidate) (*domain.ResolvedMapping, bool) {
	rs := r.rank(fc, candidates)
	if len(rs) == 0 {
		return nil, false
	}

	winner := rs[0].candidate
	result := &domain.ResolvedMapping{
		Candidate:   cloneCandidate(winner),
		Specificity: winner.Specificity(),
		Priority:    winner.Priority,
		Eligible:    len(rs),
	}

	for _, other := range rs[1:] {
		c := other.candidate
		if c.Priority != winner.Priority || c.Specificity() != winner.Specificity() {
			break
		}
		result.TiedWith = append(result.TiedWith, c.ID)
	}
	result.Ambiguous = len(result.TiedWith) > 0

	return result, true
}

// cloneCandidate copies the slices of c so callers cannot reach back into the
// supplied candidates through the result
func cloneCandidate(c domain.MappingCandidate) domain.MappingCandidate {
	if c.Conditions != nil {
		conds := make([]domain.Condition, len(c.Conditions))
		for i, cond := range c.Conditions {
			if cond.Values != nil {
				cond.Values = append([]string(nil), cond.Values...)
			}
			conds[i] = cond
		}
		c.Conditions = conds
	}
	if c.Target.Attributes != nil {
		c.Target.Attributes = append([]string(nil), c.Target.Attributes...)
	}
	return c
}
