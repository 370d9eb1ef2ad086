package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"layerlex/internal/domain"
	"layerlex/internal/normalize"
)

// Unit is one raw name and its raw attributes
type Unit struct {
	RawName    string            `json:"raw_name" yaml:"raw_name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Extractor is the pattern extraction capability used by the extract stage
type Extractor interface {
	Extract(rawName string) (*domain.ExtractionResult, bool)
}

// Resolver is the mapping resolution capability used by the resolve stage
type Resolver interface {
	Resolve(fc domain.FeatureContext, candidates []domain.MappingCandidate) (*domain.ResolvedMapping, bool)
}

// CandidateProvider supplies mapping candidates compatible with a context
type CandidateProvider interface {
	FetchCandidates(fc domain.FeatureContext) ([]domain.MappingCandidate, error)
}

// ContextInjector supplies contextual attributes from reference data.
// Returned attributes never overwrite ones already in the context.
type ContextInjector interface {
	Inject(fc domain.FeatureContext) (map[string]string, error)
}

// ContextFunc adapts a function to ContextInjector
type ContextFunc func(fc domain.FeatureContext) (map[string]string, error)

// Inject calls f
func (f ContextFunc) Inject(fc domain.FeatureContext) (map[string]string, error) {
	return f(fc)
}

// Sink receives the final result of a run
type Sink interface {
	Handoff(result *Result) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(result *Result) error

// Handoff calls f
func (f SinkFunc) Handoff(result *Result) error {
	return f(result)
}

// Clock supplies stage timing
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock
var SystemClock Clock = systemClock{}

// IdentitySource records where the final identity came from
type IdentitySource string

const (
	SourceMapping    IdentitySource = "mapping"
	SourceExtraction IdentitySource = "extraction"
	SourceFallback   IdentitySource = "fallback"
)

// Result is everything a run produced
type Result struct {
	RunID       string                   `json:"run_id"`
	Unit        Unit                     `json:"unit"`
	Context     domain.FeatureContext    `json:"context"`
	Extraction  *domain.ExtractionResult `json:"extraction,omitempty"`
	Mapping     *domain.ResolvedMapping  `json:"mapping,omitempty"`
	Identity    domain.CanonicalIdentity `json:"identity"`
	Name        string                   `json:"name"`
	Source      IdentitySource           `json:"source"`
	NeedsReview bool                     `json:"needs_review"`
	Log         *PipelineLog             `json:"log"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNormalizer replaces the default normalizer
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithContextInjector sets the context stage collaborator
func WithContextInjector(ci ContextInjector) Option {
	return func(o *Orchestrator) { o.injector = ci }
}

// WithCandidates sets the candidate provider used by the resolve stage
func WithCandidates(p CandidateProvider) Option {
	return func(o *Orchestrator) { o.candidates = p }
}

// WithSink sets the handoff stage collaborator
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithClock sets the clock used for stage timing
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithFallback sets the identity used when neither resolution nor extraction
// produced one
func WithFallback(id domain.CanonicalIdentity) Option {
	return func(o *Orchestrator) { o.fallback = id }
}

// Orchestrator runs units through the stages. It is safe for concurrent use
// as long as its collaborators are.
type Orchestrator struct {
	extractor  Extractor
	resolver   Resolver
	normalizer *normalize.Normalizer
	injector   ContextInjector
	candidates CandidateProvider
	sink       Sink
	clock      Clock
	fallback   domain.CanonicalIdentity
}

// New creates an orchestrator. A nil extractor or resolver skips that stage.
func New(extractor Extractor, resolver Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		resolver:  resolver,
		clock:     SystemClock,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New()
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	return o
}

// run carries the state of a single Run call
type run struct {
	o      *Orchestrator
	log    *PipelineLog
	result *Result
	fc     domain.FeatureContext
}

func (r *run) record(stage Stage, start time.Time, input, output any, e LogEntry) error {
	e.Stage = stage
	e.Elapsed = r.o.clock.Now().Sub(start)
	var err error
	if input != nil {
		if e.Input, err = json.Marshal(input); err != nil {
			return errors.Wrapf(err, "snapshot %s input", stage)
		}
	}
	if output != nil {
		if e.Output, err = json.Marshal(output); err != nil {
			return errors.Wrapf(err, "snapshot %s output", stage)
		}
	}
	r.log.Append(e)
	return nil
}

// fail records an error outcome and returns err wrapped with the stage name
func (r *run) fail(stage Stage, start time.Time, input any, err error) error {
	if recErr := r.record(stage, start, input, map[string]string{"error": err.Error()}, LogEntry{Outcome: OutcomeError}); recErr != nil {
		return recErr
	}
	return errors.Wrapf(err, "%s stage", stage)
}

// Run processes one unit. The returned result is non-nil even when err is
// not, and its log ends with the failing stage.
func (o *Orchestrator) Run(unit Unit) (*Result, error) {
	canonical, err := json.Marshal(unit)
	if err != nil {
		return nil, errors.Wrap(err, "encoding unit")
	}
	runID := RunID(canonical)

	r := &run{
		o:   o,
		log: NewLog(runID),
		result: &Result{
			RunID: runID,
			Unit:  unit,
		},
	}
	r.result.Log = r.log

	steps := []func() error{
		r.normalize,
		r.inject,
		r.extract,
		r.resolve,
		r.identity,
		r.handoff,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			r.result.Context = r.fc
			return r.result, err
		}
	}
	r.result.Context = r.fc
	return r.result, nil
}

func (r *run) normalize() error {
	start := r.o.clock.Now()
	n := r.o.normalizer
	raw := r.result.Unit

	attrs := n.Attributes(raw.Attributes)
	r.fc = domain.NewFeatureContext(attrs)
	r.result.Unit = Unit{RawName: n.Name(raw.RawName), Attributes: attrs}

	return r.record(StageNormalize, start, raw, r.result.Unit, LogEntry{Outcome: OutcomeOK})
}

func (r *run) inject() error {
	start := r.o.clock.Now()
	input := r.fc
	if r.o.injector == nil {
		return r.record(StageContext, start, input, nil, LogEntry{Outcome: OutcomeSkipped})
	}

	extra, err := r.o.injector.Inject(r.fc)
	if err != nil {
		return r.fail(StageContext, start, input, err)
	}

	added := make(map[string]string, len(extra))
	for k, v := range extra {
		key := r.o.normalizer.Key(k)
		if key == "" || r.fc.Has(key) {
			continue
		}
		added[key] = r.o.normalizer.Value(v)
	}
	r.fc = r.fc.Merge(added, false)

	return r.record(StageContext, start, input, added, LogEntry{Outcome: OutcomeOK})
}

type extractInput struct {
	RawName string `json:"raw_name"`
}

func (r *run) extract() error {
	start := r.o.clock.Now()
	name := r.result.Unit.RawName
	input := extractInput{RawName: name}
	if r.o.extractor == nil || name == "" {
		return r.record(StageExtract, start, input, nil, LogEntry{Outcome: OutcomeSkipped})
	}

	res, ok := r.o.extractor.Extract(name)
	if !ok {
		return r.record(StageExtract, start, input, nil, LogEntry{Outcome: OutcomeNoMatch})
	}
	r.result.Extraction = res

	extracted := make(map[string]string, len(res.Fields))
	for field, value := range res.Fields {
		extracted[domain.ExtractedPrefix+r.o.normalizer.Key(field)] = r.o.normalizer.Value(value)
	}
	// the EXT_ namespace belongs to extraction, so raw attributes cannot spoof it
	r.fc = r.fc.Merge(extracted, true)

	e := LogEntry{Outcome: OutcomeOK, Conflict: res.HasConflicts}
	if res.HasConflicts {
		e.Warnings = append(e.Warnings, fmt.Sprintf("pattern %s also matched by %v", res.PatternID, res.Conflicts))
	}
	for _, m := range res.ValidationFailures {
		e.Warnings = append(e.Warnings, m.String())
	}
	return r.record(StageExtract, start, input, res, e)
}

type resolveInput struct {
	Context    domain.FeatureContext `json:"context"`
	Candidates []string              `json:"candidates"`
}

type resolveOutput struct {
	CandidateID string   `json:"candidate_id"`
	Tier        string   `json:"tier"`
	Priority    int      `json:"priority"`
	Specificity int      `json:"specificity"`
	Eligible    int      `json:"eligible"`
	TiedWith    []string `json:"tied_with,omitempty"`
}

func (r *run) resolve() error {
	start := r.o.clock.Now()
	if r.o.resolver == nil {
		return r.record(StageResolve, start, resolveInput{Context: r.fc}, nil, LogEntry{Outcome: OutcomeSkipped})
	}

	var candidates []domain.MappingCandidate
	if r.o.candidates != nil {
		var err error
		candidates, err = r.o.candidates.FetchCandidates(r.fc)
		if err != nil {
			return r.fail(StageResolve, start, resolveInput{Context: r.fc}, err)
		}
	}

	input := resolveInput{Context: r.fc, Candidates: make([]string, len(candidates))}
	for i, c := range candidates {
		input.Candidates[i] = c.ID
	}

	m, ok := r.o.resolver.Resolve(r.fc, candidates)
	if !ok {
		return r.record(StageResolve, start, input, nil, LogEntry{Outcome: OutcomeNoMapping})
	}
	r.result.Mapping = m

	e := LogEntry{Outcome: OutcomeOK, Ambiguity: m.Ambiguous}
	if m.Ambiguous {
		e.Warnings = append(e.Warnings, fmt.Sprintf("candidate %s tied with %v at priority %d, specificity %d",
			m.Candidate.ID, m.TiedWith, m.Priority, m.Specificity))
	}
	return r.record(StageResolve, start, input, resolveOutput{
		CandidateID: m.Candidate.ID,
		Tier:        string(m.Candidate.Tier),
		Priority:    m.Priority,
		Specificity: m.Specificity,
		Eligible:    m.Eligible,
		TiedWith:    m.TiedWith,
	}, e)
}

type identityOutput struct {
	Source      IdentitySource           `json:"source"`
	Name        string                   `json:"name"`
	Identity    domain.CanonicalIdentity `json:"identity"`
	NeedsReview bool                     `json:"needs_review"`
}

func (r *run) identity() error {
	start := r.o.clock.Now()
	e := LogEntry{Outcome: OutcomeOK}
	res := r.result

	switch id, ok := IdentityFromExtraction(res.Extraction); {
	case res.Mapping != nil:
		res.Identity = res.Mapping.Candidate.Target
		res.Source = SourceMapping
		if res.Mapping.Ambiguous {
			res.NeedsReview = true
			e.Warnings = append(e.Warnings, "mapping is ambiguous")
		}
	case ok:
		res.Identity = id
		res.Source = SourceExtraction
	default:
		res.Identity = r.o.fallback
		res.Source = SourceFallback
		res.NeedsReview = true
		e.Outcome = OutcomeFallback
	}
	res.Name = res.Identity.Name()

	return r.record(StageIdentity, start, nil, identityOutput{
		Source:      res.Source,
		Name:        res.Name,
		Identity:    res.Identity,
		NeedsReview: res.NeedsReview,
	}, e)
}

func (r *run) handoff() error {
	start := r.o.clock.Now()
	r.result.Context = r.fc
	if r.o.sink == nil {
		return r.record(StageHandoff, start, nil, nil, LogEntry{Outcome: OutcomeSkipped})
	}
	if err := r.o.sink.Handoff(r.result); err != nil {
		return r.fail(StageHandoff, start, nil, err)
	}
	return r.record(StageHandoff, start, nil, nil, LogEntry{Outcome: OutcomeOK})
}
