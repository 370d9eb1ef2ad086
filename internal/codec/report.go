package codec

import (
	"layerlex/internal/pipeline"
)

// Report summarises a batch of pipeline runs
type Report struct {
	Total       int         `json:"total" yaml:"total"`
	Mapped      int         `json:"mapped" yaml:"mapped"`
	NeedsReview int         `json:"needs_review" yaml:"needs_review"`
	Conflicts   int         `json:"conflicts" yaml:"conflicts"`
	Ambiguous   int         `json:"ambiguous" yaml:"ambiguous"`
	Rows        []ReportRow `json:"rows" yaml:"rows"`
}

// ReportRow is one classified unit
type ReportRow struct {
	RunID       string   `json:"run_id" yaml:"run_id"`
	RawName     string   `json:"raw_name" yaml:"raw_name"`
	Name        string   `json:"name" yaml:"name"`
	Source      string   `json:"source" yaml:"source"`
	NeedsReview bool     `json:"needs_review" yaml:"needs_review"`
	PatternID   string   `json:"pattern_id,omitempty" yaml:"pattern_id,omitempty"`
	Confidence  float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Conflicts   []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	MappingID   string   `json:"mapping_id,omitempty" yaml:"mapping_id,omitempty"`
	TiedWith    []string `json:"tied_with,omitempty" yaml:"tied_with,omitempty"`
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
}

// NewReport builds a report from results in the order given
func NewReport(results []*pipeline.Result) (*Report, error) {
	report := &Report{Rows: make([]ReportRow, 0, len(results))}
	for _, res := range results {
		if res == nil {
			continue
		}
		row := ReportRow{
			RunID:       res.RunID,
			RawName:     res.Unit.RawName,
			Name:        res.Name,
			Source:      string(res.Source),
			NeedsReview: res.NeedsReview,
		}
		if res.Extraction != nil {
			row.PatternID = res.Extraction.PatternID
			row.Confidence = res.Extraction.Confidence
			row.Conflicts = res.Extraction.Conflicts
			if res.Extraction.HasConflicts {
				report.Conflicts++
			}
		}
		if res.Mapping != nil {
			row.MappingID = res.Mapping.Candidate.ID
			row.TiedWith = res.Mapping.TiedWith
			report.Mapped++
			if res.Mapping.Ambiguous {
				report.Ambiguous++
			}
		}
		if res.NeedsReview {
			report.NeedsReview++
		}
		if res.Log != nil {
			fp, err := res.Log.Fingerprint()
			if err != nil {
				return nil, err
			}
			row.Fingerprint = fp
		}
		report.Rows = append(report.Rows, row)
	}
	report.Total = len(report.Rows)
	return report, nil
}
