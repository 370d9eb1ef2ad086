package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerlex/internal/domain"
	"layerlex/internal/registry"
	"layerlex/internal/repository"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func testPattern(id string, confidence float64) domain.PatternDefinition {
	return domain.PatternDefinition{
		ID:         id,
		Name:       "Pattern " + id,
		Expression: `^(?P<code>[A-Z]+)-(?P<size>\d+)$`,
		Confidence: confidence,
		Active:     true,
		Rules: []domain.FieldRule{
			{Field: "type", Source: domain.Group("code")},
			{Field: "size", Source: domain.GroupOr("size", "0")},
			{Field: "discipline", Source: domain.Literal("CIV")},
		},
	}
}

func testCandidate(id string, tier domain.Tier, priority int, conds ...domain.Condition) domain.MappingCandidate {
	return domain.MappingCandidate{
		ID:         id,
		Tier:       tier,
		Priority:   priority,
		Conditions: conds,
		Target:     domain.CanonicalIdentity{Discipline: "CIV", Category: "STORM", Type: id, Attributes: []string{"60IN"}},
	}
}

// ============================================================================
// Helper Function Tests
// ============================================================================

func TestNullHelpers(t *testing.T) {
	assert.Equal(t, "", nullToString(sql.NullString{}))
	assert.Equal(t, "x", nullToString(sql.NullString{String: "x", Valid: true}))
	assert.False(t, stringToNull("").Valid)
	assert.True(t, stringToNull("x").Valid)
	assert.Nil(t, nullToTimePtr(sql.NullTime{}))
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))

	ns, err := marshalToNull([]domain.Condition{})
	require.NoError(t, err)
	assert.False(t, ns.Valid)

	ns, err = marshalToNull([]domain.Condition{domain.Eq("A", "B")})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"attribute":"A","operator":"eq","value":"B"}]`, ns.String)
}

// ============================================================================
// Pattern Tests
// ============================================================================

func TestPatternRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	def := testPattern("storm", 95)
	def.Description = "storm drains"
	require.NoError(t, repo.SavePattern(ctx, def))

	got, err := repo.GetPattern(ctx, "storm")
	require.NoError(t, err)
	assert.Equal(t, def, *got)
}

func TestPatternLoadOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.SavePattern(ctx, testPattern(id, 50)))
	}

	// updating keeps the original position
	updated := testPattern("zeta", 80)
	updated.Active = false
	require.NoError(t, repo.SavePattern(ctx, updated))

	defs, err := repo.LoadPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "zeta", defs[0].ID)
	assert.Equal(t, 80.0, defs[0].Confidence)
	assert.False(t, defs[0].Active)
	assert.Equal(t, "alpha", defs[1].ID)
	assert.Equal(t, "mid", defs[2].ID)
}

func TestReplacePatterns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SavePattern(ctx, testPattern("old", 10)))
	require.NoError(t, repo.ReplacePatterns(ctx, []domain.PatternDefinition{
		testPattern("b", 60),
		testPattern("a", 70),
	}))

	defs, err := repo.LoadPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].ID)
	assert.Equal(t, "a", defs[1].ID)

	require.NoError(t, repo.ReplacePatterns(ctx, nil))
	defs, err = repo.LoadPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestDeletePattern(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SavePattern(ctx, testPattern("gone", 10)))
	require.NoError(t, repo.RecordMatch(ctx, repository.MatchRecord{PatternID: "gone"}))
	require.NoError(t, repo.DeletePattern(ctx, "gone"))

	_, err := repo.GetPattern(ctx, "gone")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	stats, err := repo.PatternStats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	err = repo.DeletePattern(ctx, "gone")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestSavePatternRequiresID(t *testing.T) {
	repo := newTestRepo(t)
	assert.Error(t, repo.SavePattern(context.Background(), domain.PatternDefinition{Expression: "x"}))
}

// ============================================================================
// Candidate Tests
// ============================================================================

func TestCandidates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	candidates := []domain.MappingCandidate{
		testCandidate("global-sd", domain.TierGlobal, 100, domain.Eq("FEATURE_CODE", "SD")),
		testCandidate("project-sd", domain.TierProject, 1000,
			domain.Eq("PROJECT_ID", "P-1"),
			domain.Condition{Attribute: "SIZE", Operator: domain.OpIn, Values: []string{"60IN", "72IN"}}),
		testCandidate("fallback", domain.TierGlobal, 1),
	}
	require.NoError(t, repo.ReplaceCandidates(ctx, candidates))

	got, err := repo.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, candidates, got)

	global, err := repo.ListCandidates(ctx, domain.TierGlobal)
	require.NoError(t, err)
	require.Len(t, global, 2)
	assert.Equal(t, "global-sd", global[0].ID)
	assert.Equal(t, "fallback", global[1].ID)

	require.NoError(t, repo.SaveCandidate(ctx, testCandidate("ctx", domain.TierContextual, 500)))
	require.NoError(t, repo.DeleteCandidate(ctx, "fallback"))
	got, err = repo.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ctx", got[2].ID)

	err = repo.DeleteCandidate(ctx, "fallback")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

// ============================================================================
// Vocabulary Tests
// ============================================================================

func TestVocabulary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceVocabulary(ctx, map[domain.ComponentKind][]registry.Term{
		domain.ComponentDiscipline: {{Code: "civ", Description: "Civil"}, {Code: "CIV"}},
		domain.ComponentType:       {{Code: "WM"}, {Code: "SDMH"}, {Code: " "}},
	}))

	got, err := repo.LoadVocabulary(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.ComponentKind][]registry.Term{
		domain.ComponentDiscipline: {{Code: "CIV", Description: "Civil"}},
		domain.ComponentType:       {{Code: "SDMH"}, {Code: "WM"}},
	}, got)

	require.NoError(t, repo.ReplaceVocabulary(ctx, nil))
	got, err = repo.LoadVocabulary(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ============================================================================
// Reference Rule Tests
// ============================================================================

func TestReferenceRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rules := []domain.ReferenceRule{
		{
			ID:          "p100",
			Conditions:  []domain.Condition{domain.Eq("PROJECT_ID", "P-100")},
			Attributes:  map[string]string{"REGION": "NORTH"},
			Description: "Project 100",
		},
		{ID: "everywhere", Attributes: map[string]string{"DATUM": "NZVD2016"}},
	}
	require.NoError(t, repo.ReplaceReferenceRules(ctx, rules))

	got, err := repo.ListReferenceRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules, got)

	require.NoError(t, repo.ReplaceReferenceRules(ctx, nil))
	got, err = repo.ListReferenceRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ============================================================================
// Seed Tests
// ============================================================================

func TestApplySeed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.ReplaceVocabulary(ctx, map[domain.ComponentKind][]registry.Term{
		domain.ComponentType: {{Code: "SD"}},
	}))

	require.NoError(t, repo.ApplySeed(ctx, repository.Seed{
		Sections:   repository.SectionPatterns | repository.SectionCandidates | repository.SectionReference,
		Patterns:   []domain.PatternDefinition{testPattern("sd", 90)},
		Candidates: []domain.MappingCandidate{testCandidate("global-sd", domain.TierGlobal, 100)},
		Reference:  []domain.ReferenceRule{{ID: "r", Attributes: map[string]string{"A": "B"}}},
	}))

	defs, err := repo.LoadPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
	candidates, err := repo.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	rules, err := repo.ListReferenceRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	vocab, err := repo.LoadVocabulary(ctx)
	require.NoError(t, err)
	assert.Len(t, vocab[domain.ComponentType], 1, "sections not named are left alone")
}

func TestApplySeedRollsBackEverySection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.ReplacePatterns(ctx, []domain.PatternDefinition{testPattern("old", 50)}))

	err := repo.ApplySeed(ctx, repository.Seed{
		Sections: repository.SectionPatterns | repository.SectionCandidates,
		Patterns: []domain.PatternDefinition{testPattern("new", 90)},
		Candidates: []domain.MappingCandidate{
			testCandidate("dup", domain.TierGlobal, 100),
			testCandidate("dup", domain.TierGlobal, 200),
		},
	})
	require.Error(t, err)

	defs, err := repo.LoadPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "old", defs[0].ID)
}

// ============================================================================
// Statistics Tests
// ============================================================================

func TestRecordMatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordMatch(ctx, repository.MatchRecord{PatternID: "sd", At: at}))
	require.NoError(t, repo.RecordMatch(ctx, repository.MatchRecord{PatternID: "sd", Conflict: true, Mismatches: 2, At: at.Add(time.Hour)}))
	require.NoError(t, repo.RecordMatch(ctx, repository.MatchRecord{PatternID: "wm", At: at}))

	stats, err := repo.PatternStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	sd := stats[0]
	assert.Equal(t, "sd", sd.PatternID)
	assert.Equal(t, int64(2), sd.Hits)
	assert.Equal(t, int64(1), sd.Conflicts)
	assert.Equal(t, int64(2), sd.Mismatches)
	require.NotNil(t, sd.LastMatched)
	assert.True(t, sd.LastMatched.Equal(at.Add(time.Hour)))

	assert.Error(t, repo.RecordMatch(ctx, repository.MatchRecord{}))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.Error(t, err)
}
