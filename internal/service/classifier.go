package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"layerlex/internal/config"
	"layerlex/internal/domain"
	"layerlex/internal/extract"
	"layerlex/internal/loader"
	"layerlex/internal/metrics"
	"layerlex/internal/normalize"
	"layerlex/internal/pipeline"
	"layerlex/internal/reference"
	"layerlex/internal/registry"
	"layerlex/internal/repository"
	"layerlex/internal/resolve"
)

// Reload triggers
const (
	TriggerStartup = "startup"
	TriggerManual  = "manual"
	TriggerCron    = "cron"
	TriggerWatch   = "watch"
)

// ReloadSummary describes the snapshot installed by a reload
type ReloadSummary struct {
	Trigger    string                     `json:"trigger"`
	Patterns   int                        `json:"patterns"`
	Active     int                        `json:"active"`
	Candidates int                        `json:"candidates"`
	Vocabulary int                        `json:"vocabulary"`
	Reference  int                        `json:"reference"`
	LoadErrors []*domain.PatternLoadError `json:"load_errors,omitempty"`
	// SourceErrors are rejected mapping, vocabulary and reference entries
	// from seed files
	SourceErrors []string  `json:"source_errors,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// PatternInfo is the listing form of a loaded pattern
type PatternInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Expression string  `json:"expression"`
	Confidence float64 `json:"confidence"`
	Active     bool    `json:"active"`
	Position   int     `json:"position"`
	Rules      int     `json:"rules"`
}

// PatternListing is the current pattern snapshot with its load errors
type PatternListing struct {
	Patterns   []PatternInfo              `json:"patterns"`
	LoadErrors []*domain.PatternLoadError `json:"load_errors"`
	LoadedAt   time.Time                  `json:"loaded_at"`
}

// StatsReport combines persisted match statistics with validator cache stats
type StatsReport struct {
	Patterns []repository.PatternStats `json:"patterns"`
	Cache    *registry.CacheStats      `json:"cache,omitempty"`
}

// Options configures a ClassifierService
type Options struct {
	Config  *config.Config
	Repo    repository.Repository
	Logger  logrus.FieldLogger
	Metrics metrics.Metrics
	Events  *EventBus
	Clock   pipeline.Clock
}

// ClassifierService owns the live resolution engine
type ClassifierService struct {
	cfg     *config.Config
	repo    repository.Repository
	log     logrus.FieldLogger
	metrics metrics.Metrics
	events  *EventBus
	clock   pipeline.Clock

	normalizer   *normalize.Normalizer
	store        *extract.Store
	extractor    *extract.Extractor
	resolver     *resolve.Resolver
	validator    *registry.Live
	reference    *reference.Store
	orchestrator *pipeline.Orchestrator

	candidates atomic.Pointer[resolve.CandidateSet]
	summary    atomic.Pointer[ReloadSummary]

	reloadMu sync.Mutex
}

// NewClassifierService builds the engine with empty snapshots. Call Reload
// to load definitions.
func NewClassifierService(opts Options) (*ClassifierService, error) {
	if opts.Repo == nil {
		return nil, errors.New("classifier service requires a repository")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = pipeline.SystemClock
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Disabled()
	}

	s := &ClassifierService{
		cfg:       cfg,
		repo:      opts.Repo,
		log:       logger,
		metrics:   m,
		events:    opts.Events,
		clock:     clock,
		store:     extract.NewStore(nil),
		reference: reference.NewStore(nil),
	}
	s.candidates.Store(resolve.NewCandidateSet(nil))

	aliases := make(map[string]string, len(normalize.DefaultAliases)+len(cfg.Resolution.Aliases))
	for k, v := range normalize.DefaultAliases {
		aliases[k] = v
	}
	for k, v := range cfg.Resolution.Aliases {
		aliases[k] = v
	}
	s.normalizer = normalize.New(
		normalize.WithAliases(aliases),
		normalize.WithNameCase(cfg.Extraction.UpperNames),
	)

	var validator extract.Validator = extract.AlwaysValid
	if cfg.Validator.Enabled {
		live, err := registry.NewLive(cfg.Validator.CacheSize)
		if err != nil {
			return nil, err
		}
		s.validator = live
		validator = live
	}

	var err error
	s.extractor, err = extract.New(s.store,
		extract.WithValidator(validator),
		extract.WithPenaltyFactor(cfg.Extraction.PenaltyFactor),
		extract.WithTieBreak(domain.TieBreak(cfg.Extraction.TieBreak)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "extractor")
	}
	s.resolver, err = resolve.New(resolve.WithTieBreak(domain.TieBreak(cfg.Resolution.TieBreak)))
	if err != nil {
		return nil, errors.Wrap(err, "resolver")
	}

	s.orchestrator = pipeline.New(s.extractor, s.resolver,
		pipeline.WithNormalizer(s.normalizer),
		pipeline.WithContextInjector(s.reference),
		pipeline.WithCandidates(s),
		pipeline.WithSink(pipeline.SinkFunc(s.observe)),
		pipeline.WithClock(clock),
		pipeline.WithFallback(cfg.FallbackIdentity()),
	)
	return s, nil
}

// Normalizer returns the normalizer shared by every stage
func (s *ClassifierService) Normalizer() *normalize.Normalizer {
	return s.normalizer
}

// FetchCandidates serves the resolve stage from the current candidate snapshot
func (s *ClassifierService) FetchCandidates(fc domain.FeatureContext) ([]domain.MappingCandidate, error) {
	return s.candidates.Load().FetchCandidates(fc)
}

// Reload rebuilds every snapshot from the repository and swaps them in. When
// seeding is enabled the configured YAML files replace the repository
// contents first. Nothing is swapped if any load fails.
func (s *ClassifierService) Reload(ctx context.Context, trigger string) (*ReloadSummary, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	summary, err := s.reload(ctx, trigger)
	if err != nil {
		s.log.WithError(err).WithField("trigger", trigger).Error("Pattern reload failed")
		s.metrics.ObserveReload(trigger, false)
		s.events.Publish(Event{Type: EventReloadFailed, Payload: map[string]string{
			"trigger": trigger,
			"error":   err.Error(),
		}})
		return nil, err
	}

	s.metrics.ObserveReload(trigger, true)
	s.metrics.SetLoadedDefinitions(summary.Active, summary.Candidates)
	s.metrics.AddPatternLoadErrors(len(summary.LoadErrors))
	s.events.Publish(Event{Type: EventPatternsReloaded, Payload: summary})
	s.log.WithFields(logrus.Fields{
		"trigger":     trigger,
		"patterns":    summary.Patterns,
		"active":      summary.Active,
		"candidates":  summary.Candidates,
		"vocabulary":  summary.Vocabulary,
		"reference":   summary.Reference,
		"load_errors": len(summary.LoadErrors),
	}).Info("Patterns reloaded")
	return summary, nil
}

func (s *ClassifierService) reload(ctx context.Context, trigger string) (*ReloadSummary, error) {
	summary := &ReloadSummary{Trigger: trigger}

	if s.cfg.Sources.Seed {
		if err := s.seed(ctx, summary); err != nil {
			return nil, err
		}
	}

	defs, err := s.repo.LoadPatterns(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load patterns")
	}
	candidates, err := s.repo.ListCandidates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load mapping candidates")
	}
	terms, err := s.repo.LoadVocabulary(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load vocabulary")
	}
	rules, err := s.repo.ListReferenceRules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load reference rules")
	}

	set, compileErrs := extract.Compile(defs)
	summary.LoadErrors = append(summary.LoadErrors, compileErrs...)
	for _, le := range summary.LoadErrors {
		entry := s.log.WithFields(logrus.Fields{
			"pattern_id": le.PatternID,
			"reason":     le.Reason,
		})
		if le.Err != nil {
			entry = entry.WithError(le.Err)
		}
		entry.Warn("Pattern excluded from active set")
	}

	vocabulary := registry.NewVocabulary(terms)
	candidateSet := resolve.NewCandidateSet(candidates)
	ruleSet := reference.NewRuleSet(rules)

	if s.validator != nil {
		if err := s.validator.Swap(vocabulary); err != nil {
			return nil, errors.Wrap(err, "install vocabulary")
		}
	}
	s.candidates.Store(candidateSet)
	s.reference.Swap(ruleSet)
	s.store.Swap(set)

	summary.Patterns = len(set.Patterns())
	summary.Active = set.Len()
	summary.Candidates = candidateSet.Len()
	summary.Vocabulary = vocabulary.Len()
	summary.Reference = ruleSet.Len()
	summary.LoadedAt = s.clock.Now()
	s.summary.Store(summary)
	return summary, nil
}

// seed parses every configured source file and replaces the matching
// repository sections in one transaction. A file that cannot be read or
// parsed leaves the repository untouched.
func (s *ClassifierService) seed(ctx context.Context, summary *ReloadSummary) error {
	src := s.cfg.Sources
	var seed repository.Seed

	if src.Patterns != "" {
		defs, loadErrs, err := loader.LoadPatterns(src.Patterns)
		if err != nil {
			return errors.Wrap(err, "seed patterns")
		}
		summary.LoadErrors = append(summary.LoadErrors, loadErrs...)
		seed.Sections |= repository.SectionPatterns
		seed.Patterns = defs
	}

	if src.Mappings != "" {
		candidates, entryErrs, err := loader.LoadMappings(src.Mappings, s.normalizer)
		if err != nil {
			return errors.Wrap(err, "seed mappings")
		}
		s.rejected(summary, "Mapping entry rejected", entryErrs)
		seed.Sections |= repository.SectionCandidates
		seed.Candidates = candidates
	}

	if src.Vocabulary != "" {
		terms, entryErrs, err := loader.LoadVocabulary(src.Vocabulary)
		if err != nil {
			return errors.Wrap(err, "seed vocabulary")
		}
		s.rejected(summary, "Vocabulary entry rejected", entryErrs)
		seed.Sections |= repository.SectionVocabulary
		seed.Vocabulary = terms
	}

	if src.Reference != "" {
		rules, entryErrs, err := loader.LoadReference(src.Reference, s.normalizer)
		if err != nil {
			return errors.Wrap(err, "seed reference")
		}
		s.rejected(summary, "Reference rule rejected", entryErrs)
		seed.Sections |= repository.SectionReference
		seed.Reference = rules
	}

	if seed.Sections == 0 {
		return nil
	}
	return errors.Wrap(s.repo.ApplySeed(ctx, seed), "seed repository")
}

func (s *ClassifierService) rejected(summary *ReloadSummary, msg string, entryErrs []*loader.EntryError) {
	for _, e := range entryErrs {
		summary.SourceErrors = append(summary.SourceErrors, e.Error())
		s.log.WithField("reason", e.Reason).WithField("id", e.ID).Warn(msg)
	}
}

// LastReload returns the summary of the most recent successful reload
func (s *ClassifierService) LastReload() (*ReloadSummary, bool) {
	summary := s.summary.Load()
	return summary, summary != nil
}

// Extract runs pattern extraction alone on a raw name
func (s *ClassifierService) Extract(ctx context.Context, rawName string) (*domain.ExtractionResult, bool) {
	name := s.normalizer.Name(rawName)
	res, ok := s.extractor.Extract(name)
	if !ok {
		s.metrics.ObserveExtraction(string(pipeline.OutcomeNoMatch), false, 0)
		s.log.WithField("raw_name", name).Debug("No pattern matched")
		return nil, false
	}
	s.observeExtraction(res)
	s.recordMatch(ctx, res)
	return res, true
}

// Resolve runs mapping resolution alone on a set of raw attributes. The
// returned context is the normalized one, with reference attributes added,
// that the candidates were checked against. ok is false when no candidate
// applies; err is set only when context or candidates could not be fetched.
func (s *ClassifierService) Resolve(attrs map[string]string) (m *domain.ResolvedMapping, fc domain.FeatureContext, ok bool, err error) {
	fc = domain.NewFeatureContext(s.normalizer.Attributes(attrs))

	extra, err := s.reference.Inject(fc)
	if err != nil {
		s.metrics.ObserveResolution(string(pipeline.OutcomeError), false)
		return nil, fc, false, errors.Wrap(err, "reference attributes")
	}
	fc = fc.Merge(s.normalizer.Attributes(extra), false)

	candidates, err := s.FetchCandidates(fc)
	if err != nil {
		s.metrics.ObserveResolution(string(pipeline.OutcomeError), false)
		return nil, fc, false, errors.Wrap(err, "fetch candidates")
	}
	m, ok = s.resolver.Resolve(fc, candidates)
	if !ok {
		s.metrics.ObserveResolution(string(pipeline.OutcomeNoMapping), false)
		return nil, fc, false, nil
	}
	s.observeResolution(m)
	return m, fc, true, nil
}

// Classify runs one unit through the whole pipeline
func (s *ClassifierService) Classify(ctx context.Context, unit pipeline.Unit) (*pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.orchestrator.Run(unit)
	if err != nil {
		s.log.WithError(err).WithField("raw_name", unit.RawName).Error("Classification failed")
		return res, err
	}
	if res.Extraction != nil {
		s.recordMatch(ctx, res.Extraction)
	}
	return res, nil
}

// ClassifyBatch classifies units concurrently, bounded by the configured
// worker count. Results keep the input order. The first error cancels the
// units not yet started; results of finished units are still returned.
func (s *ClassifierService) ClassifyBatch(ctx context.Context, units []pipeline.Unit) ([]*pipeline.Result, error) {
	results := make([]*pipeline.Result, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Engine.Workers)
	for i := range units {
		g.Go(func() error {
			res, err := s.Classify(gctx, units[i])
			results[i] = res
			if err != nil {
				return errors.Wrapf(err, "unit %d (%s)", i, units[i].RawName)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Patterns lists the current snapshot and the patterns excluded from it
func (s *ClassifierService) Patterns() PatternListing {
	set := s.store.Load()
	listing := PatternListing{
		Patterns:   make([]PatternInfo, 0, len(set.Patterns())),
		LoadErrors: set.LoadErrors(),
		LoadedAt:   set.LoadedAt(),
	}
	if summary, ok := s.LastReload(); ok {
		listing.LoadErrors = summary.LoadErrors
	}
	if listing.LoadErrors == nil {
		listing.LoadErrors = []*domain.PatternLoadError{}
	}
	for _, p := range set.Patterns() {
		listing.Patterns = append(listing.Patterns, PatternInfo{
			ID:         p.ID,
			Name:       p.Name,
			Expression: p.Expression,
			Confidence: p.Confidence,
			Active:     p.Active,
			Position:   p.Position,
			Rules:      len(p.Rules),
		})
	}
	return listing
}

// Stats returns persisted match statistics and validator cache counters
func (s *ClassifierService) Stats(ctx context.Context) (*StatsReport, error) {
	stats, err := s.repo.PatternStats(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pattern stats")
	}
	report := &StatsReport{Patterns: stats}
	if s.validator != nil {
		cs := s.validator.Stats()
		report.Cache = &cs
	}
	return report, nil
}

// observe is the pipeline sink: it reports a finished run to metrics, the
// log and the event bus
func (s *ClassifierService) observe(res *pipeline.Result) error {
	for _, e := range res.Log.Entries() {
		s.metrics.ObserveStage(string(e.Stage), string(e.Outcome), e.Elapsed.Seconds())
	}

	if res.Extraction != nil {
		s.observeExtraction(res.Extraction)
	} else if e, ok := res.Log.Entry(pipeline.StageExtract); ok {
		s.metrics.ObserveExtraction(string(e.Outcome), false, 0)
	}

	if res.Mapping != nil {
		s.observeResolution(res.Mapping)
	} else if e, ok := res.Log.Entry(pipeline.StageResolve); ok {
		s.metrics.ObserveResolution(string(e.Outcome), false)
	}

	if res.Source == pipeline.SourceFallback {
		s.log.WithFields(logrus.Fields{
			"raw_name": res.Unit.RawName,
			"run_id":   res.RunID,
		}).Warn("No identity resolved, using fallback")
	}
	return nil
}

func (s *ClassifierService) observeExtraction(res *domain.ExtractionResult) {
	s.metrics.ObserveExtraction(string(pipeline.OutcomeOK), res.HasConflicts, len(res.ValidationFailures))

	if res.HasConflicts {
		s.log.WithFields(logrus.Fields{
			"raw_name":   res.RawName,
			"pattern_id": res.PatternID,
			"conflicts":  res.Conflicts,
		}).Warn("Raw name matched by several patterns")
		s.events.Publish(Event{Type: EventConflict, Payload: map[string]interface{}{
			"raw_name":   res.RawName,
			"pattern_id": res.PatternID,
			"conflicts":  res.Conflicts,
		}})
	}
	for _, m := range res.ValidationFailures {
		s.log.WithFields(logrus.Fields{
			"raw_name":   res.RawName,
			"pattern_id": res.PatternID,
			"field":      m.Field,
			"value":      m.Value,
		}).Info("Extracted value not in vocabulary")
	}
	if res.Penalized() {
		s.events.Publish(Event{Type: EventMismatch, Payload: map[string]interface{}{
			"raw_name":   res.RawName,
			"pattern_id": res.PatternID,
			"mismatches": res.ValidationFailures,
			"confidence": res.Confidence,
		}})
	}
}

func (s *ClassifierService) observeResolution(m *domain.ResolvedMapping) {
	s.metrics.ObserveResolution(string(pipeline.OutcomeOK), m.Ambiguous)
	if !m.Ambiguous {
		return
	}
	s.log.WithFields(logrus.Fields{
		"candidate_id": m.Candidate.ID,
		"tied_with":    m.TiedWith,
		"priority":     m.Priority,
		"specificity":  m.Specificity,
	}).Warn("Ambiguous mapping resolution")
	s.events.Publish(Event{Type: EventAmbiguous, Payload: map[string]interface{}{
		"candidate_id": m.Candidate.ID,
		"tied_with":    m.TiedWith,
		"priority":     m.Priority,
		"specificity":  m.Specificity,
	}})
}

// recordMatch reports an extraction to the statistics store. Failures are
// logged and never fail the caller.
func (s *ClassifierService) recordMatch(ctx context.Context, res *domain.ExtractionResult) {
	if !s.cfg.Extraction.RecordStats {
		return
	}
	err := s.repo.RecordMatch(ctx, repository.MatchRecord{
		PatternID:  res.PatternID,
		Conflict:   res.HasConflicts,
		Mismatches: len(res.ValidationFailures),
		At:         s.clock.Now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("pattern_id", res.PatternID).Warn("Failed to record match")
	}
}

func (s ReloadSummary) String() string {
	return fmt.Sprintf("%d patterns (%d active, %d excluded), %d mapping candidates, %d vocabulary terms, %d reference rules",
		s.Patterns, s.Active, len(s.LoadErrors), s.Candidates, s.Vocabulary, s.Reference)
}
