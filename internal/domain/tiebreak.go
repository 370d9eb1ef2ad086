package domain

import "fmt"

// TieBreak selects the final ordering key when the primary keys are equal
type TieBreak string

const (
	// TieBreakDeclarationOrder prefers the entry supplied first
	TieBreakDeclarationOrder TieBreak = "declaration_order"
	// TieBreakIdentifier prefers the lexicographically smallest identifier
	TieBreakIdentifier TieBreak = "identifier"
)

// ParseTieBreak validates a configured tie-break name. An empty name yields def.
func ParseTieBreak(s string, def TieBreak) (TieBreak, error) {
	switch TieBreak(s) {
	case "":
		return def, nil
	case TieBreakDeclarationOrder, TieBreakIdentifier:
		return TieBreak(s), nil
	default:
		return def, fmt.Errorf("unknown tie-break %q (want %s or %s)", s, TieBreakDeclarationOrder, TieBreakIdentifier)
	}
}
