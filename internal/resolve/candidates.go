package resolve

import (
	"layerlex/internal/domain"
)

// CandidateSet is an immutable in-memory snapshot of mapping candidates,
// rebuilt whenever the mapping store is reloaded
type CandidateSet struct {
	candidates []domain.MappingCandidate
	byID       map[string]int
}

// NewCandidateSet copies candidates into a snapshot, keeping their order
func NewCandidateSet(candidates []domain.MappingCandidate) *CandidateSet {
	s := &CandidateSet{
		candidates: make([]domain.MappingCandidate, len(candidates)),
		byID:       make(map[string]int, len(candidates)),
	}
	for i, c := range candidates {
		s.candidates[i] = cloneCandidate(c)
		if _, dup := s.byID[c.ID]; !dup {
			s.byID[c.ID] = i
		}
	}
	return s
}

// FetchCandidates returns the candidates at least partially compatible with
// fc: wildcards, and candidates with at least one satisfied condition.
// Order is the snapshot's load order.
func (s *CandidateSet) FetchCandidates(fc domain.FeatureContext) ([]domain.MappingCandidate, error) {
	if s == nil {
		return nil, nil
	}
	var out []domain.MappingCandidate
	for _, c := range s.candidates {
		if c.Compatible(fc) {
			out = append(out, c)
		}
	}
	return out, nil
}

// All returns every candidate in load order
func (s *CandidateSet) All() []domain.MappingCandidate {
	if s == nil {
		return nil
	}
	out := make([]domain.MappingCandidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Get returns the first candidate loaded with id
func (s *CandidateSet) Get(id string) (domain.MappingCandidate, bool) {
	if s == nil {
		return domain.MappingCandidate{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return domain.MappingCandidate{}, false
	}
	return s.candidates[i], true
}

// Len returns the number of candidates
func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.candidates)
}
