// Package pipeline runs a unit of work through the classification stages and
// records an append-only audit trail of every stage.
//
// # Stages
//
//	normalize -> context -> extract -> resolve -> identity -> handoff
//
// Each stage is a function of its input plus reference data supplied by
// collaborators (context injector, candidate provider, downstream sink).
// Re-running a unit against the same reference data produces the same result
// and the same canonical log.
//
// # Outcomes
//
// NoMatch and NoMapping are recorded as stage outcomes, not errors. The
// identity stage falls back to extracted components and then to a configured
// default identity flagged for review. Only collaborator failures end a run
// with an error, and the log up to the failing stage is still returned.
package pipeline
