// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClaim stores a claim submission. Saving an existing ID replaces it.
func (r *SQLRepository) SaveClaim(ctx context.Context, claim *domain.ClaimRecord) error {
	if claim == nil || claim.ID == "" {
		return fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}
	submitted := claim.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM claims WHERE id = ?`), claim.ID); err != nil {
			return err
		}
		query := `
			INSERT INTO claims (
				id, patient_id, diagnosis, procedure_text, cost, language, raw_input, submitted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, r.rebind(query),
			claim.ID, claim.PatientID, claim.Diagnosis, claim.Procedure,
			claim.Cost.String(), claim.Language, claim.RawInput, submitted,
		)
		return err
	})
}

// GetClaim retrieves a claim by ID.
func (r *SQLRepository) GetClaim(ctx context.Context, claimID string) (*domain.ClaimRecord, error) {
	query := `
		SELECT id, patient_id, diagnosis, procedure_text, cost, language, raw_input, submitted_at
		FROM claims
		WHERE id = ?
	`

	var c domain.ClaimRecord
	var cost string
	var raw sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), claimID).Scan(
		&c.ID, &c.PatientID, &c.Diagnosis, &c.Procedure,
		&cost, &c.Language, &raw, &c.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if c.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("claim %s: bad stored cost %q: %w", claimID, cost, err)
	}
	c.RawInput = raw.String
	return &c, nil
}

// SaveDecision stores a decision result. The full result is kept as JSON
// next to the indexed columns.
func (r *SQLRepository) SaveDecision(ctx context.Context, result *domain.DecisionResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	evaluated := result.EvaluatedAt
	if evaluated.IsZero() {
		evaluated = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (
			id, claim_id, decision, composite_score, confidence, verdict, risk_tier,
			rule_snapshot_version, config_version, evaluated_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.ClaimID, string(result.Decision),
		result.CompositeScore, result.Confidence,
		string(result.Verdict), string(result.RiskTier),
		result.RuleSnapshotVersion, result.ConfigVersion,
		evaluated, string(payload),
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.DecisionResult, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT payload FROM decisions WHERE id = ?`), decisionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDecision(payload)
}

// ListDecisionsByClaim returns every decision for a claim, oldest first.
func (r *SQLRepository) ListDecisionsByClaim(ctx context.Context, claimID string) ([]*domain.DecisionResult, error) {
	query := `
		SELECT payload FROM decisions
		WHERE claim_id = ?
		ORDER BY evaluated_at, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.DecisionResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		d, err := decodeDecision(payload)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func decodeDecision(payload string) (*domain.DecisionResult, error) {
	var d domain.DecisionResult
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("failed to decode decision: %w", err)
	}
	return &d, nil
}

// SaveRuleSnapshot stores a snapshot, replacing any snapshot with the same
// version, in one transaction.
func (r *SQLRepository) SaveRuleSnapshot(ctx context.Context, snap *domain.RuleSnapshot) error {
	if snap == nil || snap.Version == "" {
		return fmt.Errorf("%w: snapshot version is required", ErrInvalidInput)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"coverage_rules", "procedure_codes", "benefit_categories", "rule_snapshots"} {
			if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM "+table+" WHERE version = ?"), snap.Version); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO rule_snapshots (version, source, default_category, rule_count, code_count, loaded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), snap.Version, snap.Source, snap.DefaultCategory, len(snap.Rules), len(snap.Codes), time.Now().UTC())
		if err != nil {
			return err
		}

		ruleQuery := r.rebind(`
			INSERT INTO coverage_rules (
				version, id, position, title, source, keywords, verdict, cost_ceiling,
				prior_authorization, physician_certification, notes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		for i, rule := range snap.Rules {
			keywords, _ := json.Marshal(rule.Keywords)
			var ceiling sql.NullString
			if rule.CostCeiling != nil {
				ceiling = sql.NullString{String: rule.CostCeiling.String(), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, ruleQuery,
				snap.Version, rule.ID, i, rule.Title, rule.Source, string(keywords),
				string(rule.Verdict), ceiling,
				boolInt(rule.PriorAuthorization), boolInt(rule.PhysicianCertification), rule.Notes,
			); err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
		}

		codeQuery := r.rebind(`
			INSERT INTO procedure_codes (version, code, position, description, benefit_category, default_coverage)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		for i, code := range snap.Codes {
			if _, err := tx.ExecContext(ctx, codeQuery,
				snap.Version, code.Code, i, code.Description, code.BenefitCategory, string(code.DefaultCoverage),
			); err != nil {
				return fmt.Errorf("code %s: %w", code.Code, err)
			}
		}

		categoryQuery := r.rebind(`
			INSERT INTO benefit_categories (version, name, position, keywords)
			VALUES (?, ?, ?, ?)
		`)
		for i, c := range snap.Categories {
			keywords, _ := json.Marshal(c.Keywords)
			if _, err := tx.ExecContext(ctx, categoryQuery, snap.Version, c.Name, i, string(keywords)); err != nil {
				return fmt.Errorf("category %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// LoadRuleSnapshot loads a snapshot by version. An empty version loads the
// most recently stored snapshot.
func (r *SQLRepository) LoadRuleSnapshot(ctx context.Context, version string) (*domain.RuleSnapshot, error) {
	var snap domain.RuleSnapshot
	var source, defaultCategory sql.NullString

	var row *sql.Row
	if version == "" {
		row = r.db.QueryRowContext(ctx, `
			SELECT version, source, default_category FROM rule_snapshots
			ORDER BY loaded_at DESC, version DESC
			LIMIT 1
		`)
	} else {
		row = r.db.QueryRowContext(ctx, r.rebind(`
			SELECT version, source, default_category FROM rule_snapshots WHERE version = ?
		`), version)
	}
	err := row.Scan(&snap.Version, &source, &defaultCategory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap.Source = source.String
	snap.DefaultCategory = defaultCategory.String

	if snap.Rules, err = r.loadRules(ctx, snap.Version); err != nil {
		return nil, err
	}
	if snap.Codes, err = r.loadCodes(ctx, snap.Version); err != nil {
		return nil, err
	}
	if snap.Categories, err = r.loadCategories(ctx, snap.Version); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *SQLRepository) loadRules(ctx context.Context, version string) ([]domain.CoverageRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, title, source, keywords, verdict, cost_ceiling,
			   prior_authorization, physician_certification, notes
		FROM coverage_rules
		WHERE version = ?
		ORDER BY position
	`), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.CoverageRule
	for rows.Next() {
		var rule domain.CoverageRule
		var source, ceiling, notes sql.NullString
		var keywords, verdict string
		var priorAuth, certification int
		if err := rows.Scan(
			&rule.ID, &rule.Title, &source, &keywords, &verdict, &ceiling,
			&priorAuth, &certification, &notes,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &rule.Keywords); err != nil {
			return nil, fmt.Errorf("rule %s: bad keywords: %w", rule.ID, err)
		}
		if ceiling.Valid {
			d, err := decimal.NewFromString(ceiling.String)
			if err != nil {
				return nil, fmt.Errorf("rule %s: bad cost ceiling: %w", rule.ID, err)
			}
			rule.CostCeiling = &d
		}
		rule.Source = source.String
		rule.Notes = notes.String
		rule.Verdict = domain.Verdict(verdict)
		rule.PriorAuthorization = priorAuth != 0
		rule.PhysicianCertification = certification != 0
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLRepository) loadCodes(ctx context.Context, version string) ([]domain.ProcedureCode, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT code, description, benefit_category, default_coverage
		FROM procedure_codes
		WHERE version = ?
		ORDER BY position
	`), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.ProcedureCode
	for rows.Next() {
		var c domain.ProcedureCode
		var category, coverage sql.NullString
		if err := rows.Scan(&c.Code, &c.Description, &category, &coverage); err != nil {
			return nil, err
		}
		c.BenefitCategory = category.String
		c.DefaultCoverage = domain.Verdict(coverage.String)
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *SQLRepository) loadCategories(ctx context.Context, version string) ([]domain.BenefitCategory, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT name, keywords FROM benefit_categories
		WHERE version = ?
		ORDER BY position
	`), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.BenefitCategory
	for rows.Next() {
		var c domain.BenefitCategory
		var keywords string
		if err := rows.Scan(&c.Name, &keywords); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("category %s: bad keywords: %w", c.Name, err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListSnapshotVersions lists stored snapshots, newest first.
func (r *SQLRepository) ListSnapshotVersions(ctx context.Context) ([]domain.SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT version, source, rule_count, code_count, loaded_at
		FROM rule_snapshots
		ORDER BY loaded_at DESC, version DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []domain.SnapshotInfo
	for rows.Next() {
		var info domain.SnapshotInfo
		var source sql.NullString
		if err := rows.Scan(&info.Version, &source, &info.RuleCount, &info.CodeCount, &info.LoadedAt); err != nil {
			return nil, err
		}
		info.Source = source.String
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
