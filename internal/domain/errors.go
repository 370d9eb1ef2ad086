package domain

import "fmt"

// PatternLoadError reports a single pattern excluded from the active set.
// It never aborts loading of the remaining patterns.
type PatternLoadError struct {
	PatternID string `json:"pattern_id"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

func (e *PatternLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pattern %s: %s: %v", e.PatternID, e.Reason, e.Err)
	}
	return fmt.Sprintf("pattern %s: %s", e.PatternID, e.Reason)
}

func (e *PatternLoadError) Unwrap() error {
	return e.Err
}

// ValidationMismatch records an extracted value the registry did not recognise.
// The value is kept as extracted; only the confidence is penalised.
type ValidationMismatch struct {
	Field string        `json:"field"`
	Kind  ComponentKind `json:"kind"`
	Value string        `json:"value"`
}

func (m ValidationMismatch) String() string {
	return fmt.Sprintf("%s=%q is not a known %s", m.Field, m.Value, m.Kind)
}
