package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"layerlex/internal/domain"
	"layerlex/internal/registry"
	"layerlex/internal/repository"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Repository implements repository.Repository on SQLite or PostgreSQL
type Repository struct {
	db     *sqlx.DB
	sb     sq.StatementBuilderType
	driver string
}

var _ repository.Repository = (*Repository)(nil)

// New opens (or creates) a SQLite database at dbPath
func New(dbPath string) (*Repository, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to a database using driver and migrates the schema
func Open(driver, dsn string) (*Repository, error) {
	var builder sq.StatementBuilderType
	switch driver {
	case DriverSQLite:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	repo := &Repository{db: db, sb: builder, driver: driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return repo, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, ":memory:") || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Driver returns the database driver name
func (r *Repository) Driver() string {
	return r.driver
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		name TEXT,
		expression TEXT NOT NULL,
		rules TEXT,
		confidence DOUBLE PRECISION NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS mapping_candidates (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		tier TEXT NOT NULL,
		priority INTEGER NOT NULL,
		conditions TEXT,
		target TEXT NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS vocabulary_terms (
		kind TEXT NOT NULL,
		code TEXT NOT NULL,
		description TEXT,
		PRIMARY KEY (kind, code)
	);

	CREATE TABLE IF NOT EXISTS reference_rules (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		conditions TEXT,
		attributes TEXT NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS pattern_stats (
		pattern_id TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		mismatches INTEGER NOT NULL DEFAULT 0,
		last_matched TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_position ON patterns(position);
	CREATE INDEX IF NOT EXISTS idx_candidates_position ON mapping_candidates(position);
	CREATE INDEX IF NOT EXISTS idx_candidates_tier ON mapping_candidates(tier);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close releases the database handle
func (r *Repository) Close() error {
	return r.db.Close()
}

// ============================================================================
// Patterns
// ============================================================================

// LoadPatterns returns every pattern definition in load order
func (r *Repository) LoadPatterns(ctx context.Context) ([]domain.PatternDefinition, error) {
	query, args, err := r.sb.Select(patternColumns...).From("patterns").OrderBy("position", "id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build pattern query")
	}

	var rows []patternRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query patterns")
	}

	defs := make([]domain.PatternDefinition, 0, len(rows))
	for i := range rows {
		def, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// GetPattern returns a single pattern definition
func (r *Repository) GetPattern(ctx context.Context, id string) (*domain.PatternDefinition, error) {
	query, args, err := r.sb.Select(patternColumns...).From("patterns").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build pattern query")
	}

	var row patternRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(repository.ErrNotFound, "pattern %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get pattern %s", id)
	}
	def, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// SavePattern inserts a new pattern at the end of the load order or updates
// an existing one in place
func (r *Repository) SavePattern(ctx context.Context, def domain.PatternDefinition) error {
	if def.ID == "" {
		return errors.New("pattern id is required")
	}
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		position, err := r.nextPosition(ctx, tx, "patterns")
		if err != nil {
			return err
		}
		values, err := patternValues(def, position)
		if err != nil {
			return err
		}
		query, args, err := r.sb.Insert("patterns").
			Columns(patternColumns...).
			Values(values...).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				expression = excluded.expression,
				rules = excluded.rules,
				confidence = excluded.confidence,
				active = excluded.active,
				description = excluded.description`).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "build pattern upsert")
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return errors.Wrapf(err, "failed to save pattern %s", def.ID)
	})
}

// DeletePattern removes a pattern and its statistics
func (r *Repository) DeletePattern(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.deleteByID(ctx, tx, "patterns", "id", id); err != nil {
			return errors.Wrapf(err, "pattern %s", id)
		}
		query, args, err := r.sb.Delete("pattern_stats").Where(sq.Eq{"pattern_id": id}).ToSql()
		if err != nil {
			return errors.Wrap(err, "build stats delete")
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return errors.Wrap(err, "failed to delete pattern stats")
	})
}

// ReplacePatterns replaces the whole pattern set; positions follow defs
func (r *Repository) ReplacePatterns(ctx context.Context, defs []domain.PatternDefinition) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.replacePatterns(ctx, tx, defs)
	})
}

func (r *Repository) replacePatterns(ctx context.Context, tx *sqlx.Tx, defs []domain.PatternDefinition) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM patterns"); err != nil {
		return errors.Wrap(err, "failed to clear patterns")
	}
	if len(defs) == 0 {
		return nil
	}
	insert := r.sb.Insert("patterns").Columns(patternColumns...)
	for i, def := range defs {
		values, err := patternValues(def, i)
		if err != nil {
			return errors.Wrapf(err, "pattern %s", def.ID)
		}
		insert = insert.Values(values...)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return errors.Wrap(err, "build pattern insert")
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to insert patterns")
}

// ============================================================================
// Mapping candidates
// ============================================================================

// ListCandidates returns mapping candidates in load order, restricted to
// tiers when any are given
func (r *Repository) ListCandidates(ctx context.Context, tiers ...domain.Tier) ([]domain.MappingCandidate, error) {
	sel := r.sb.Select(candidateColumns...).From("mapping_candidates").OrderBy("position", "id")
	if len(tiers) > 0 {
		names := make([]string, len(tiers))
		for i, t := range tiers {
			names[i] = string(t)
		}
		sel = sel.Where(sq.Eq{"tier": names})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build candidate query")
	}

	var rows []candidateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query candidates")
	}

	out := make([]domain.MappingCandidate, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCandidate inserts or updates a mapping candidate
func (r *Repository) SaveCandidate(ctx context.Context, c domain.MappingCandidate) error {
	if c.ID == "" {
		return errors.New("candidate id is required")
	}
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		position, err := r.nextPosition(ctx, tx, "mapping_candidates")
		if err != nil {
			return err
		}
		values, err := candidateValues(c, position)
		if err != nil {
			return err
		}
		query, args, err := r.sb.Insert("mapping_candidates").
			Columns(candidateColumns...).
			Values(values...).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				tier = excluded.tier,
				priority = excluded.priority,
				conditions = excluded.conditions,
				target = excluded.target,
				description = excluded.description`).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "build candidate upsert")
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return errors.Wrapf(err, "failed to save candidate %s", c.ID)
	})
}

// DeleteCandidate removes a mapping candidate
func (r *Repository) DeleteCandidate(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return errors.Wrapf(r.deleteByID(ctx, tx, "mapping_candidates", "id", id), "candidate %s", id)
	})
}

// ReplaceCandidates replaces every mapping candidate; positions follow the slice
func (r *Repository) ReplaceCandidates(ctx context.Context, candidates []domain.MappingCandidate) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.replaceCandidates(ctx, tx, candidates)
	})
}

func (r *Repository) replaceCandidates(ctx context.Context, tx *sqlx.Tx, candidates []domain.MappingCandidate) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM mapping_candidates"); err != nil {
		return errors.Wrap(err, "failed to clear candidates")
	}
	if len(candidates) == 0 {
		return nil
	}
	insert := r.sb.Insert("mapping_candidates").Columns(candidateColumns...)
	for i, c := range candidates {
		values, err := candidateValues(c, i)
		if err != nil {
			return errors.Wrapf(err, "candidate %s", c.ID)
		}
		insert = insert.Values(values...)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return errors.Wrap(err, "build candidate insert")
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to insert candidates")
}

// ============================================================================
// Vocabulary
// ============================================================================

type termRow struct {
	Kind        string         `db:"kind"`
	Code        string         `db:"code"`
	Description sql.NullString `db:"description"`
}

// LoadVocabulary returns the canonical terms grouped by component kind
func (r *Repository) LoadVocabulary(ctx context.Context) (map[domain.ComponentKind][]registry.Term, error) {
	query, args, err := r.sb.Select("kind", "code", "description").
		From("vocabulary_terms").OrderBy("kind", "code").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build vocabulary query")
	}

	var rows []termRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query vocabulary")
	}

	out := make(map[domain.ComponentKind][]registry.Term)
	for _, row := range rows {
		kind := domain.ComponentKind(row.Kind)
		out[kind] = append(out[kind], registry.Term{Code: row.Code, Description: nullToString(row.Description)})
	}
	return out, nil
}

// ReplaceVocabulary replaces every vocabulary term
func (r *Repository) ReplaceVocabulary(ctx context.Context, entries map[domain.ComponentKind][]registry.Term) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.replaceVocabulary(ctx, tx, entries)
	})
}

func (r *Repository) replaceVocabulary(ctx context.Context, tx *sqlx.Tx, entries map[domain.ComponentKind][]registry.Term) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM vocabulary_terms"); err != nil {
		return errors.Wrap(err, "failed to clear vocabulary")
	}
	insert := r.sb.Insert("vocabulary_terms").Columns("kind", "code", "description")
	seen := make(map[string]bool)
	n := 0
	for kind, terms := range entries {
		for _, t := range terms {
			code := strings.ToUpper(strings.TrimSpace(t.Code))
			key := string(kind) + "\x00" + code
			if code == "" || seen[key] {
				continue
			}
			seen[key] = true
			insert = insert.Values(string(kind), code, stringToNull(t.Description))
			n++
		}
	}
	if n == 0 {
		return nil
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return errors.Wrap(err, "build vocabulary insert")
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to insert vocabulary")
}

// ============================================================================
// Reference rules
// ============================================================================

// ListReferenceRules returns reference rules in load order
func (r *Repository) ListReferenceRules(ctx context.Context) ([]domain.ReferenceRule, error) {
	query, args, err := r.sb.Select(referenceColumns...).From("reference_rules").OrderBy("position", "id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build reference query")
	}

	var rows []referenceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query reference rules")
	}

	out := make([]domain.ReferenceRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// ReplaceReferenceRules replaces every reference rule; positions follow the slice
func (r *Repository) ReplaceReferenceRules(ctx context.Context, rules []domain.ReferenceRule) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.replaceReferenceRules(ctx, tx, rules)
	})
}

func (r *Repository) replaceReferenceRules(ctx context.Context, tx *sqlx.Tx, rules []domain.ReferenceRule) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM reference_rules"); err != nil {
		return errors.Wrap(err, "failed to clear reference rules")
	}
	if len(rules) == 0 {
		return nil
	}
	insert := r.sb.Insert("reference_rules").Columns(referenceColumns...)
	for i, rule := range rules {
		values, err := referenceValues(rule, i)
		if err != nil {
			return errors.Wrapf(err, "reference rule %s", rule.ID)
		}
		insert = insert.Values(values...)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return errors.Wrap(err, "build reference insert")
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to insert reference rules")
}

// ============================================================================
// Seeding
// ============================================================================

// ApplySeed replaces every section the seed names inside one transaction
func (r *Repository) ApplySeed(ctx context.Context, seed repository.Seed) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if seed.Has(repository.SectionPatterns) {
			if err := r.replacePatterns(ctx, tx, seed.Patterns); err != nil {
				return err
			}
		}
		if seed.Has(repository.SectionCandidates) {
			if err := r.replaceCandidates(ctx, tx, seed.Candidates); err != nil {
				return err
			}
		}
		if seed.Has(repository.SectionVocabulary) {
			if err := r.replaceVocabulary(ctx, tx, seed.Vocabulary); err != nil {
				return err
			}
		}
		if seed.Has(repository.SectionReference) {
			if err := r.replaceReferenceRules(ctx, tx, seed.Reference); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Statistics
// ============================================================================

// RecordMatch adds one extraction outcome to the pattern's counters
func (r *Repository) RecordMatch(ctx context.Context, rec repository.MatchRecord) error {
	if rec.PatternID == "" {
		return errors.New("pattern id is required")
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	conflict := 0
	if rec.Conflict {
		conflict = 1
	}

	query, args, err := r.sb.Insert("pattern_stats").
		Columns("pattern_id", "hits", "conflicts", "mismatches", "last_matched").
		Values(rec.PatternID, 1, conflict, rec.Mismatches, at.UTC()).
		Suffix(`ON CONFLICT (pattern_id) DO UPDATE SET
			hits = pattern_stats.hits + 1,
			conflicts = pattern_stats.conflicts + excluded.conflicts,
			mismatches = pattern_stats.mismatches + excluded.mismatches,
			last_matched = excluded.last_matched`).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build stats upsert")
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "failed to record match for %s", rec.PatternID)
}

// PatternStats returns the counters of every pattern that matched at least once
func (r *Repository) PatternStats(ctx context.Context) ([]repository.PatternStats, error) {
	query, args, err := r.sb.Select("pattern_id", "hits", "conflicts", "mismatches", "last_matched").
		From("pattern_stats").OrderBy("pattern_id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build stats query")
	}

	var rows []statsRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query stats")
	}

	out := make([]repository.PatternStats, len(rows))
	for i, row := range rows {
		out[i] = repository.PatternStats{
			PatternID:   row.PatternID,
			Hits:        row.Hits,
			Conflicts:   row.Conflicts,
			Mismatches:  row.Mismatches,
			LastMatched: nullToTimePtr(row.LastMatched),
		}
	}
	return out, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (r *Repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (r *Repository) nextPosition(ctx context.Context, tx *sqlx.Tx, table string) (int, error) {
	query, args, err := r.sb.Select("COALESCE(MAX(position), -1) + 1").From(table).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build position query")
	}
	var next int
	if err := tx.GetContext(ctx, &next, query, args...); err != nil {
		return 0, errors.Wrapf(err, "failed to read next position of %s", table)
	}
	return next, nil
}

func (r *Repository) deleteByID(ctx context.Context, tx *sqlx.Tx, table, column, id string) error {
	query, args, err := r.sb.Delete(table).Where(sq.Eq{column: id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
