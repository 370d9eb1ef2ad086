// Package resolve selects exactly one mapping candidate for a feature context.
//
// Eligible candidates are those whose conditions are all satisfied by the
// context; a candidate without conditions is a wildcard. Eligible candidates
// are ordered by priority (higher first), then specificity (more conditions
// first), then a deterministic secondary key. The first candidate wins.
//
// When other eligible candidates share the winner's priority and specificity
// the result is flagged ambiguous and lists them, so overlapping rule sets can
// be found and fixed by whoever maintains them.
package resolve
