// Package repository defines the data access interfaces for layerlex.
//
// The classifier service reads pattern definitions, mapping candidates and
// the component vocabulary through these interfaces when it (re)loads, and
// reports per-pattern match statistics. The engine itself never touches a
// store during extraction or resolution.
//
// # SQL Implementation
//
// The sqlite subpackage implements Repository on top of sqlx and squirrel.
// It runs on SQLite (modernc.org/sqlite, pure Go) by default and on
// PostgreSQL through lib/pq. It handles:
//
// - Load-order preserving storage of patterns and candidates
// - JSON serialization of rules, conditions and targets
// - Transactional replacement of whole sets when seeding from YAML
// - Atomic counter upserts for match statistics
//
// # Schema Migration
//
// The schema is created on open with CREATE TABLE IF NOT EXISTS, so opening
// an existing database is safe.
//
// # Testing
//
// The sqlite repository is tested against in-memory databases.
package repository
