package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"layerlex/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullToTimePtr safely converts sql.NullTime to *time.Time
func nullToTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt stores booleans portably across sqlite and postgres INTEGER columns
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField unmarshals JSON from a nullable column into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals v to a nullable JSON column. Empty slices are stored as NULL.
func marshalToNull(v interface{}) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case []domain.FieldRule:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []domain.Condition:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Pattern Row Scanner
// ============================================================================
//
// Column order must match between patternColumns and every SELECT using it.
// The same applies to candidates and stats.

// patternRow holds all columns from a pattern query
type patternRow struct {
	ID          string         `db:"id"`
	Position    int            `db:"position"`
	Name        sql.NullString `db:"name"`
	Expression  string         `db:"expression"`
	RulesJSON   sql.NullString `db:"rules"`
	Confidence  float64        `db:"confidence"`
	Active      int            `db:"active"`
	Description sql.NullString `db:"description"`
}

// patternColumns is the SELECT column list for pattern queries
var patternColumns = []string{"id", "position", "name", "expression", "rules", "confidence", "active", "description"}

// toDomain converts the scanned row to a domain.PatternDefinition
func (r *patternRow) toDomain() (domain.PatternDefinition, error) {
	def := domain.PatternDefinition{
		ID:          r.ID,
		Name:        nullToString(r.Name),
		Expression:  r.Expression,
		Confidence:  r.Confidence,
		Active:      r.Active != 0,
		Description: nullToString(r.Description),
	}
	if err := unmarshalJSONField(r.RulesJSON, &def.Rules); err != nil {
		return def, errors.Wrapf(err, "unmarshal rules of pattern %s", r.ID)
	}
	return def, nil
}

// patternValues prepares values for a pattern INSERT in patternColumns order
func patternValues(def domain.PatternDefinition, position int) ([]interface{}, error) {
	rules, err := marshalToNull(def.Rules)
	if err != nil {
		return nil, errors.Wrap(err, "marshal rules")
	}
	return []interface{}{
		def.ID,
		position,
		stringToNull(def.Name),
		def.Expression,
		rules,
		def.Confidence,
		boolToInt(def.Active),
		stringToNull(def.Description),
	}, nil
}

// ============================================================================
// Candidate Row Scanner
// ============================================================================

// candidateRow holds all columns from a mapping candidate query
type candidateRow struct {
	ID             string         `db:"id"`
	Position       int            `db:"position"`
	Tier           string         `db:"tier"`
	Priority       int            `db:"priority"`
	ConditionsJSON sql.NullString `db:"conditions"`
	TargetJSON     string         `db:"target"`
	Description    sql.NullString `db:"description"`
}

var candidateColumns = []string{"id", "position", "tier", "priority", "conditions", "target", "description"}

// toDomain converts the scanned row to a domain.MappingCandidate
func (r *candidateRow) toDomain() (domain.MappingCandidate, error) {
	c := domain.MappingCandidate{
		ID:          r.ID,
		Tier:        domain.Tier(r.Tier),
		Priority:    r.Priority,
		Description: nullToString(r.Description),
	}
	if err := unmarshalJSONField(r.ConditionsJSON, &c.Conditions); err != nil {
		return c, errors.Wrapf(err, "unmarshal conditions of candidate %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.TargetJSON), &c.Target); err != nil {
		return c, errors.Wrapf(err, "unmarshal target of candidate %s", r.ID)
	}
	return c, nil
}

// candidateValues prepares values for a candidate INSERT in candidateColumns order
func candidateValues(c domain.MappingCandidate, position int) ([]interface{}, error) {
	conds, err := marshalToNull(c.Conditions)
	if err != nil {
		return nil, errors.Wrap(err, "marshal conditions")
	}
	target, err := json.Marshal(c.Target)
	if err != nil {
		return nil, errors.Wrap(err, "marshal target")
	}
	return []interface{}{
		c.ID,
		position,
		string(c.Tier),
		c.Priority,
		conds,
		string(target),
		stringToNull(c.Description),
	}, nil
}

// ============================================================================
// Reference Row Scanner
// ============================================================================

type referenceRow struct {
	ID             string         `db:"id"`
	Position       int            `db:"position"`
	ConditionsJSON sql.NullString `db:"conditions"`
	AttributesJSON string         `db:"attributes"`
	Description    sql.NullString `db:"description"`
}

var referenceColumns = []string{"id", "position", "conditions", "attributes", "description"}

func (r *referenceRow) toDomain() (domain.ReferenceRule, error) {
	rule := domain.ReferenceRule{ID: r.ID, Description: nullToString(r.Description)}
	if err := unmarshalJSONField(r.ConditionsJSON, &rule.Conditions); err != nil {
		return rule, errors.Wrapf(err, "unmarshal conditions of reference rule %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.AttributesJSON), &rule.Attributes); err != nil {
		return rule, errors.Wrapf(err, "unmarshal attributes of reference rule %s", r.ID)
	}
	return rule, nil
}

func referenceValues(rule domain.ReferenceRule, position int) ([]interface{}, error) {
	conds, err := marshalToNull(rule.Conditions)
	if err != nil {
		return nil, errors.Wrap(err, "marshal conditions")
	}
	attrs, err := json.Marshal(rule.Attributes)
	if err != nil {
		return nil, errors.Wrap(err, "marshal attributes")
	}
	return []interface{}{rule.ID, position, conds, string(attrs), stringToNull(rule.Description)}, nil
}

// ============================================================================
// Stats Row Scanner
// ============================================================================

type statsRow struct {
	PatternID   string       `db:"pattern_id"`
	Hits        int64        `db:"hits"`
	Conflicts   int64        `db:"conflicts"`
	Mismatches  int64        `db:"mismatches"`
	LastMatched sql.NullTime `db:"last_matched"`
}
