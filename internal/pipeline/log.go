package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Stage names a pipeline step
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageContext   Stage = "context"
	StageExtract   Stage = "extract"
	StageResolve   Stage = "resolve"
	StageIdentity  Stage = "identity"
	StageHandoff   Stage = "handoff"
)

// Stages lists the steps in execution order
var Stages = []Stage{StageNormalize, StageContext, StageExtract, StageResolve, StageIdentity, StageHandoff}

// Outcome summarises what a stage produced
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeSkipped   Outcome = "skipped"    // Stage had nothing to do
	OutcomeNoMatch   Outcome = "no_match"   // No active pattern matched the raw name
	OutcomeNoMapping Outcome = "no_mapping" // No mapping candidate was eligible
	OutcomeFallback  Outcome = "fallback"   // Identity fell back to the configured default
	OutcomeError     Outcome = "error"      // A collaborator failed; the run stopped here
)

// runNamespace scopes name-based run identifiers
var runNamespace = uuid.MustParse("6f1c9a52-3d7e-4b0a-9c11-5a7e2f4d8b90")

// RunID derives a stable identifier from the canonical bytes of a unit
func RunID(canonical []byte) string {
	return uuid.NewSHA1(runNamespace, canonical).String()
}

// LogEntry is one stage's record. Input and Output are JSON snapshots taken
// when the stage finished, so later stages cannot alter them. Elapsed is kept
// in memory for metrics and never serialised.
type LogEntry struct {
	Seq       int             `json:"seq"`
	Stage     Stage           `json:"stage"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Conflict  bool            `json:"conflict"`
	Ambiguity bool            `json:"ambiguity"`
	Warnings  []string        `json:"warnings,omitempty"`
	Elapsed   time.Duration   `json:"-"`
}

func (e LogEntry) clone() LogEntry {
	e.Input = append(json.RawMessage(nil), e.Input...)
	e.Output = append(json.RawMessage(nil), e.Output...)
	if e.Warnings != nil {
		e.Warnings = append([]string(nil), e.Warnings...)
	}
	return e
}

// PipelineLog is the append-only audit trail of a single run
type PipelineLog struct {
	runID   string
	entries []LogEntry
}

// NewLog creates an empty log for runID
func NewLog(runID string) *PipelineLog {
	return &PipelineLog{runID: runID}
}

// RunID returns the identifier of the run the log belongs to
func (l *PipelineLog) RunID() string {
	return l.runID
}

// Append adds an entry, assigning its sequence number, and returns the
// stored copy. Existing entries are never modified.
func (l *PipelineLog) Append(e LogEntry) LogEntry {
	e = e.clone()
	e.Seq = len(l.entries) + 1
	l.entries = append(l.entries, e)
	return e.clone()
}

// Entries returns a copy of the entries in append order
func (l *PipelineLog) Entries() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of entries
func (l *PipelineLog) Len() int {
	return len(l.entries)
}

// Entry returns the entry recorded for stage
func (l *PipelineLog) Entry(stage Stage) (LogEntry, bool) {
	for _, e := range l.entries {
		if e.Stage == stage {
			return e.clone(), true
		}
	}
	return LogEntry{}, false
}

type logDocument struct {
	RunID   string     `json:"run_id"`
	Entries []LogEntry `json:"entries"`
}

// MarshalJSON encodes the log without timing. Identical input and reference
// data always produce identical bytes.
func (l *PipelineLog) MarshalJSON() ([]byte, error) {
	entries := l.entries
	if entries == nil {
		entries = []LogEntry{}
	}
	return json.Marshal(logDocument{RunID: l.runID, Entries: entries})
}

// JSON returns the byte form of the log
func (l *PipelineLog) JSON() ([]byte, error) {
	return l.MarshalJSON()
}

// Fingerprint returns the hex BLAKE2b-256 digest of the log bytes
func (l *PipelineLog) Fingerprint() (string, error) {
	data, err := l.JSON()
	if err != nil {
		return "", errors.Wrap(err, "encoding pipeline log")
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
