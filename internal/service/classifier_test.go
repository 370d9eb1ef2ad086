package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerlex/internal/config"
	"layerlex/internal/domain"
	"layerlex/internal/pipeline"
	"layerlex/internal/repository/sqlite"
)

const definitions = `
patterns:
  - id: storm-drain
    expression: '^(?P<type>SD)-(?P<size>\d+)-(?P<phase>NEW|EX)$'
    confidence: 95
    rules:
      - {field: type, group: type}
      - {field: size, group: size}
      - {field: phase, group: phase}
      - {field: discipline, literal: CIV}
  - id: broken
    expression: '(unclosed'
    confidence: 50
  - id: sd-generic
    expression: '^SD'
    confidence: 60
    rules:
      - {field: type, literal: SD}

mappings:
  - id: sd-8
    tier: contextual
    when:
      - {attribute: EXT_TYPE, value: SD}
      - {attribute: EXT_SIZE, value: "8"}
    target: {discipline: civ, category: storm, type: sd, attributes: [8in], phase: new}
  - id: sd-feature
    tier: global
    when:
      - {attribute: feature code, operator: prefix, value: SD}
    target: {discipline: civ, category: storm, type: pipe}
  - id: sd-8-north
    tier: contextual
    when:
      - {attribute: region, value: north}
      - {attribute: EXT_TYPE, value: SD}
      - {attribute: EXT_SIZE, value: "8"}
    target: {discipline: civ, category: storm, type: sdn, attributes: [8in]}

reference:
  - id: p100-region
    when:
      - {attribute: project, value: P-100}
    set: {region: north}

vocabulary:
  discipline: [CIV]
  type: [MH]
  phase: [NEW, EX]
`

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testEnv struct {
	svc    *ClassifierService
	repo   *sqlite.Repository
	events chan Event
	logs   *bytes.Buffer
}

var testClock = fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	return newTestEnvWithClock(t, testClock, mutate)
}

func newTestEnvWithClock(t *testing.T, clock pipeline.Clock, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitions), 0o644))

	cfg := config.DefaultConfig()
	cfg.Sources = config.SourcesConfig{Patterns: path, Mappings: path, Vocabulary: path, Reference: path, Seed: true}
	cfg.Extraction.RecordStats = true
	cfg.Resolution.Fallback = config.FallbackIdentity{Discipline: "GEN", Category: "UNK", Type: "UNK"}
	if mutate != nil {
		mutate(cfg)
	}

	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logs := &bytes.Buffer{}
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, logs)
	require.NoError(t, err)

	bus := NewEventBus()
	events := make(chan Event, 64)
	bus.Subscribe(events)

	svc, err := NewClassifierService(Options{
		Config: cfg,
		Repo:   repo,
		Logger: logger,
		Events: bus,
		Clock:  clock,
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, repo: repo, events: events, logs: logs}
}

func (e *testEnv) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestReloadSeedsAndReportsLoadErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	summary, err := env.svc.Reload(context.Background(), TriggerStartup)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Patterns)
	assert.Equal(t, 2, summary.Active)
	assert.Equal(t, 3, summary.Candidates)
	assert.Equal(t, 4, summary.Vocabulary)
	assert.Equal(t, 1, summary.Reference)
	require.Len(t, summary.LoadErrors, 1)
	assert.Equal(t, "broken", summary.LoadErrors[0].PatternID)
	assert.Contains(t, env.logs.String(), `"pattern_id":"broken"`)

	events := env.drain()
	require.Len(t, events, 1)
	assert.Equal(t, EventPatternsReloaded, events[0].Type)

	stored, err := env.repo.LoadPatterns(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3, "invalid expressions are stored and excluded at compile time")

	listing := env.svc.Patterns()
	require.Len(t, listing.Patterns, 2)
	assert.Equal(t, "storm-drain", listing.Patterns[0].ID)
	assert.Equal(t, "sd-generic", listing.Patterns[1].ID)
	assert.Equal(t, 2, listing.Patterns[1].Position)
	assert.Len(t, listing.LoadErrors, 1)
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Reload(context.Background(), TriggerStartup)
	require.NoError(t, err)
	env.drain()

	env.svc.cfg.Sources.Patterns = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = env.svc.Reload(context.Background(), TriggerManual)
	require.Error(t, err)

	assert.Equal(t, []EventType{EventReloadFailed}, eventTypes(env.drain()))
	res, ok := env.svc.Extract(context.Background(), "SD-8-NEW")
	require.True(t, ok)
	assert.Equal(t, "storm-drain", res.PatternID)
}

func TestExtractAppliesVocabulary(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Reload(context.Background(), TriggerStartup)
	require.NoError(t, err)
	env.drain()

	res, ok := env.svc.Extract(context.Background(), "  SD-8-NEW ")
	require.True(t, ok)
	assert.Equal(t, "storm-drain", res.PatternID)
	assert.Equal(t, 47.5, res.Confidence)
	assert.Equal(t, []domain.ValidationMismatch{{Field: "type", Kind: domain.ComponentType, Value: "SD"}}, res.ValidationFailures)
	assert.Equal(t, []string{"sd-generic"}, res.Conflicts)

	assert.Equal(t, []EventType{EventConflict, EventMismatch}, eventTypes(env.drain()))

	_, ok = env.svc.Extract(context.Background(), "WM-8")
	assert.False(t, ok)
}

func TestValidatorDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Validator.Enabled = false })
	_, err := env.svc.Reload(context.Background(), TriggerStartup)
	require.NoError(t, err)

	res, ok := env.svc.Extract(context.Background(), "SD-8-NEW")
	require.True(t, ok)
	assert.Equal(t, 95.0, res.Confidence)
	assert.Empty(t, res.ValidationFailures)
}

func TestResolveStandalone(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Reload(context.Background(), TriggerStartup)
	require.NoError(t, err)

	m, fc, ok, err := env.svc.Resolve(map[string]string{"fcode": "sd-12"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sd-feature", m.Candidate.ID)
	assert.Equal(t, "CIV-STORM-PIPE", m.Candidate.Target.Name())
	v, _ := fc.Get(domain.AttrFeatureCode)
	assert.Equal(t, "SD-12", v)

	_, _, ok, err = env.svc.Resolve(map[string]string{"zone": "a"})
	require.NoError(t, err)
	assert.False(t, ok)

	m, fc, ok, err = env.svc.Resolve(map[string]string{"project": "p-100", "ext_type": "sd", "ext_size": "8"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sd-8-north", m.Candidate.ID)
	v, _ = fc.Get("REGION")
	assert.Equal(t, "NORTH", v)
}

func TestClassifyInjectsReferenceAttributes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	plain, err := env.svc.Classify(ctx, pipeline.Unit{RawName: "SD-8-NEW"})
	require.NoError(t, err)
	assert.Equal(t, "sd-8", plain.Mapping.Candidate.ID)

	res, err := env.svc.Classify(ctx, pipeline.Unit{
		RawName:    "SD-8-NEW",
		Attributes: map[string]string{"project": "P-100"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Mapping)
	assert.Equal(t, "sd-8-north", res.Mapping.Candidate.ID)
	assert.Equal(t, 3, res.Mapping.Specificity)
	assert.False(t, res.Mapping.Ambiguous)
	assert.Equal(t, "CIV-STORM-SDN-8IN", res.Name)

	e, ok := res.Log.Entry(pipeline.StageContext)
	require.True(t, ok)
	assert.Equal(t, pipeline.OutcomeOK, e.Outcome)
	assert.JSONEq(t, `{"REGION":"NORTH"}`, string(e.Output))
}

func TestReloadSwapsReferenceRules(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	// An unseeded reload serves whatever the repository holds.
	env.svc.cfg.Sources.Seed = false
	require.NoError(t, env.repo.ReplaceReferenceRules(ctx, nil))
	summary, err := env.svc.Reload(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reference)

	res, err := env.svc.Classify(ctx, pipeline.Unit{
		RawName:    "SD-8-NEW",
		Attributes: map[string]string{"project": "P-100"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sd-8", res.Mapping.Candidate.ID)
}

func TestSeedParsesEverySourceBeforeWriting(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)
	env.drain()

	replacement := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(replacement, []byte(`
patterns:
  - id: water-main
    expression: '^WM-(?P<size>\d+)$'
    confidence: 90
    rules:
      - {field: size, group: size}
`), 0o644))
	env.svc.cfg.Sources.Patterns = replacement
	env.svc.cfg.Sources.Mappings = filepath.Join(t.TempDir(), "missing.yaml")

	_, err = env.svc.Reload(ctx, TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed mappings")

	stored, err := env.repo.LoadPatterns(ctx)
	require.NoError(t, err)
	ids := make([]string, len(stored))
	for i, p := range stored {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"storm-drain", "broken", "sd-generic"}, ids)

	candidates, err := env.repo.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestClassifyLogStableWithSystemClock(t *testing.T) {
	env := newTestEnvWithClock(t, pipeline.SystemClock, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	unit := pipeline.Unit{RawName: "SD-8-NEW", Attributes: map[string]string{"project": "P-100"}}
	first, err := env.svc.Classify(ctx, unit)
	require.NoError(t, err)
	second, err := env.svc.Classify(ctx, unit)
	require.NoError(t, err)

	a, err := first.Log.JSON()
	require.NoError(t, err)
	b, err := second.Log.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.RunID, second.RunID)

	fa, err := first.Log.Fingerprint()
	require.NoError(t, err)
	fb, err := second.Log.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestReloadReplacesVocabularyVerdicts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	res, ok := env.svc.Extract(ctx, "SD-8-NEW")
	require.True(t, ok)
	require.Len(t, res.ValidationFailures, 1)

	vocab := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(vocab, []byte(`
vocabulary:
  discipline: [CIV]
  type: [SD, MH]
  phase: [NEW, EX]
`), 0o644))
	env.svc.cfg.Sources.Vocabulary = vocab
	_, err = env.svc.Reload(ctx, TriggerManual)
	require.NoError(t, err)

	res, ok = env.svc.Extract(ctx, "SD-8-NEW")
	require.True(t, ok)
	assert.Empty(t, res.ValidationFailures)
	assert.Equal(t, 95.0, res.Confidence)
}

func TestClassifyRecordsStats(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	res, err := env.svc.Classify(ctx, pipeline.Unit{RawName: "SD-8-NEW"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceMapping, res.Source)
	assert.Equal(t, "sd-8", res.Mapping.Candidate.ID)
	assert.Equal(t, "CIV-STORM-SD-8IN-NEW", res.Name)
	assert.Len(t, res.Log.Entries(), len(pipeline.Stages))

	_, err = env.svc.Classify(ctx, pipeline.Unit{RawName: "SD-8-NEW"})
	require.NoError(t, err)

	report, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, report.Patterns, 1)
	stats := report.Patterns[0]
	assert.Equal(t, "storm-drain", stats.PatternID)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 2, stats.Conflicts)
	assert.EqualValues(t, 2, stats.Mismatches)
	require.NotNil(t, report.Cache)
	assert.Positive(t, report.Cache.Hits)
}

func TestClassifyBatchKeepsOrder(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Engine.Workers = 2 })
	ctx := context.Background()
	_, err := env.svc.Reload(ctx, TriggerStartup)
	require.NoError(t, err)

	units := []pipeline.Unit{
		{RawName: "SD-8-NEW"},
		{RawName: "XX-1"},
		{RawName: "SD-10-EX"},
		{RawName: "pipe", Attributes: map[string]string{"code": "SD"}},
	}
	results, err := env.svc.ClassifyBatch(ctx, units)
	require.NoError(t, err)
	require.Len(t, results, len(units))

	assert.Equal(t, "CIV-STORM-SD-8IN-NEW", results[0].Name)
	assert.Equal(t, "GEN-UNK-UNK", results[1].Name)
	assert.Equal(t, pipeline.SourceFallback, results[1].Source)
	assert.True(t, results[1].NeedsReview)
	assert.Equal(t, "CIV-SD-10-EX", results[2].Name)
	assert.Equal(t, pipeline.SourceExtraction, results[2].Source)
	assert.Equal(t, "CIV-STORM-PIPE", results[3].Name)

	again, err := env.svc.ClassifyBatch(ctx, units)
	require.NoError(t, err)
	for i := range units {
		a, err := results[i].Log.JSON()
		require.NoError(t, err)
		b, err := again[i].Log.JSON()
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), "unit %d", i)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Classify(ctx, pipeline.Unit{RawName: "SD-8-NEW"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClassifierServiceRequiresRepo(t *testing.T) {
	_, err := NewClassifierService(Options{Logger: logrus.New()})
	assert.Error(t, err)
}
