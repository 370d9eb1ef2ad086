// Package extract implements the pattern extraction stage of the resolution
// engine.
//
// A PatternSet is an immutable snapshot of compiled patterns. Store holds the
// active snapshot behind an atomic pointer so reloads never block or disturb
// in-flight extractions. Extractor evaluates every active pattern of a snapshot
// against a raw name, picks the winner by confidence and the configured
// tie-break, and applies validation penalties through an injected Validator.
package extract
