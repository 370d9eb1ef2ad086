// Package domain defines the core types of the layerlex resolution engine.
//
// This package contains the entities and value objects used to translate raw
// CAD layer names and field feature codes into canonical identities.
//
// # Extraction
//
// PatternDefinition is the stored form of an extraction pattern: a regular
// expression, an ordered list of FieldRules and a static confidence (0-100).
// NewPattern compiles it into an immutable Pattern. Each FieldRule draws its
// value from a FieldSource, a tagged variant (literal, capture group, default).
// A field with no resolvable source is left unset.
//
// ExtractionResult carries the winning pattern, the extracted fields, the
// confidence after validation penalties and the set of other patterns that also
// matched (the conflict set).
//
// # Resolution
//
// MappingCandidate is a prioritized rule: a set of Conditions, a Tier, a
// priority and a target CanonicalIdentity. FeatureContext is the read-only
// attribute set candidates are evaluated against. ResolvedMapping is the single
// winner together with the keys used to choose it.
//
// # Errors
//
// PatternLoadError isolates a malformed pattern; ValidationMismatch records a
// value the registry did not recognise. Neither aborts processing.
//
// # Design Principles
//
// - Immutable value objects
// - No database or external dependencies
// - Pure domain logic without infrastructure concerns
package domain
