package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"layerlex/internal/domain"
	"layerlex/internal/registry"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// PatternRepository stores extraction pattern definitions in load order
type PatternRepository interface {
	// LoadPatterns returns every definition ordered by load position
	LoadPatterns(ctx context.Context) ([]domain.PatternDefinition, error)
	GetPattern(ctx context.Context, id string) (*domain.PatternDefinition, error)
	// SavePattern inserts or updates a definition. New definitions are
	// appended to the load order; updates keep their position.
	SavePattern(ctx context.Context, def domain.PatternDefinition) error
	DeletePattern(ctx context.Context, id string) error
	// ReplacePatterns swaps the whole set in one transaction
	ReplacePatterns(ctx context.Context, defs []domain.PatternDefinition) error
}

// MappingRepository stores mapping candidates
type MappingRepository interface {
	// ListCandidates returns candidates in load order, optionally restricted to tiers
	ListCandidates(ctx context.Context, tiers ...domain.Tier) ([]domain.MappingCandidate, error)
	SaveCandidate(ctx context.Context, c domain.MappingCandidate) error
	DeleteCandidate(ctx context.Context, id string) error
	ReplaceCandidates(ctx context.Context, candidates []domain.MappingCandidate) error
}

// VocabularyRepository stores the canonical component vocabulary
type VocabularyRepository interface {
	LoadVocabulary(ctx context.Context) (map[domain.ComponentKind][]registry.Term, error)
	ReplaceVocabulary(ctx context.Context, entries map[domain.ComponentKind][]registry.Term) error
}

// ReferenceRepository stores project and spatial reference rules in load order
type ReferenceRepository interface {
	ListReferenceRules(ctx context.Context) ([]domain.ReferenceRule, error)
	ReplaceReferenceRules(ctx context.Context, rules []domain.ReferenceRule) error
}

// Section selects which definition sets a Seed replaces
type Section uint8

const (
	SectionPatterns Section = 1 << iota
	SectionCandidates
	SectionVocabulary
	SectionReference
)

// Seed is a batch of definitions replaced in a single transaction. Only the
// sections named in Sections are touched; the others keep their rows.
type Seed struct {
	Sections   Section
	Patterns   []domain.PatternDefinition
	Candidates []domain.MappingCandidate
	Vocabulary map[domain.ComponentKind][]registry.Term
	Reference  []domain.ReferenceRule
}

// Has reports whether the seed replaces section
func (s Seed) Has(section Section) bool {
	return s.Sections&section != 0
}

// MatchRecord is one extraction outcome reported to the statistics store
type MatchRecord struct {
	PatternID  string
	Conflict   bool
	Mismatches int
	At         time.Time
}

// PatternStats aggregates match records per pattern
type PatternStats struct {
	PatternID   string     `json:"pattern_id" db:"pattern_id"`
	Hits        int64      `json:"hits" db:"hits"`
	Conflicts   int64      `json:"conflicts" db:"conflicts"`
	Mismatches  int64      `json:"mismatches" db:"mismatches"`
	LastMatched *time.Time `json:"last_matched,omitempty" db:"-"`
}

// StatsRepository accumulates per-pattern match statistics
type StatsRepository interface {
	RecordMatch(ctx context.Context, rec MatchRecord) error
	PatternStats(ctx context.Context) ([]PatternStats, error)
}

// Repository combines every store the classifier service depends on
type Repository interface {
	PatternRepository
	MappingRepository
	VocabularyRepository
	ReferenceRepository
	StatsRepository

	// ApplySeed replaces the seeded sections atomically: either every
	// section is replaced or none is
	ApplySeed(ctx context.Context, seed Seed) error

	// Close releases resources
	Close() error
}
