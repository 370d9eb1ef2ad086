package extract

import (
	"sync/atomic"
	"time"

	"layerlex/internal/domain"
)

// PatternSet is an immutable, ordered snapshot of compiled patterns
type PatternSet struct {
	patterns []*domain.Pattern
	active   []*domain.Pattern
	errors   []*domain.PatternLoadError
	loadedAt time.Time
}

// Compile builds a snapshot from definitions in load order. Definitions that
// fail to compile, or reuse an identifier already loaded, are excluded and
// reported individually; they never prevent the rest of the set from loading.
func Compile(defs []domain.PatternDefinition) (*PatternSet, []*domain.PatternLoadError) {
	set := &PatternSet{loadedAt: time.Now()}
	seen := make(map[string]bool, len(defs))

	for i, def := range defs {
		if def.ID != "" && seen[def.ID] {
			set.errors = append(set.errors, &domain.PatternLoadError{
				PatternID: def.ID,
				Reason:    "duplicate pattern id",
			})
			continue
		}

		p, err := domain.NewPattern(def, i)
		if err != nil {
			set.errors = append(set.errors, asLoadError(def.ID, err))
			continue
		}

		seen[def.ID] = true
		set.patterns = append(set.patterns, p)
		if p.Active {
			set.active = append(set.active, p)
		}
	}

	return set, set.LoadErrors()
}

func asLoadError(id string, err error) *domain.PatternLoadError {
	if le, ok := err.(*domain.PatternLoadError); ok {
		return le
	}
	return &domain.PatternLoadError{PatternID: id, Reason: "compile failed", Err: err}
}

// Patterns returns every compiled pattern, active or not, in load order
func (s *PatternSet) Patterns() []*domain.Pattern {
	if s == nil {
		return nil
	}
	out := make([]*domain.Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Active returns the patterns evaluated by extraction, in load order
func (s *PatternSet) Active() []*domain.Pattern {
	if s == nil {
		return nil
	}
	out := make([]*domain.Pattern, len(s.active))
	copy(out, s.active)
	return out
}

// Get returns a pattern by identifier
func (s *PatternSet) Get(id string) (*domain.Pattern, bool) {
	if s == nil {
		return nil, false
	}
	for _, p := range s.patterns {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// LoadErrors returns the patterns excluded when the set was compiled
func (s *PatternSet) LoadErrors() []*domain.PatternLoadError {
	if s == nil {
		return nil
	}
	out := make([]*domain.PatternLoadError, len(s.errors))
	copy(out, s.errors)
	return out
}

// Len returns the number of active patterns
func (s *PatternSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.active)
}

// LoadedAt returns when the snapshot was compiled
func (s *PatternSet) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Store holds the active pattern snapshot. Readers never lock; a reload
// replaces the whole snapshot in a single atomic swap.
type Store struct {
	current atomic.Pointer[PatternSet]
}

// NewStore creates a store holding set (which may be nil)
func NewStore(set *PatternSet) *Store {
	s := &Store{}
	if set == nil {
		set = &PatternSet{}
	}
	s.current.Store(set)
	return s
}

// Load returns the current snapshot
func (s *Store) Load() *PatternSet {
	return s.current.Load()
}

// Swap installs a new snapshot and returns the previous one. Calls that
// already loaded the previous snapshot keep using it.
func (s *Store) Swap(set *PatternSet) *PatternSet {
	if set == nil {
		set = &PatternSet{}
	}
	return s.current.Swap(set)
}
