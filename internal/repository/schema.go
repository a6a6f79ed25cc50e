package repository

// Schema definitions for the claims auditor database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL,
    diagnosis TEXT NOT NULL,
    procedure_text TEXT NOT NULL,
    cost TEXT NOT NULL,
    language TEXT NOT NULL,
    raw_input TEXT,
    submitted_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_patient ON claims(patient_id);
CREATE INDEX IF NOT EXISTS idx_claims_submitted ON claims(submitted_at);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    composite_score REAL NOT NULL,
    confidence REAL NOT NULL,
    verdict TEXT,
    risk_tier TEXT,
    rule_snapshot_version TEXT,
    config_version TEXT,
    evaluated_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_claim ON decisions(claim_id, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
`

// schemaRuleSnapshots defines the versioned rule database.
// Child tables are keyed by snapshot version; position keeps load order.
const schemaRuleSnapshots = `
CREATE TABLE IF NOT EXISTS rule_snapshots (
    version TEXT PRIMARY KEY,
    source TEXT,
    default_category TEXT,
    rule_count INTEGER NOT NULL,
    code_count INTEGER NOT NULL,
    loaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_snapshots_loaded ON rule_snapshots(loaded_at);
`

const schemaCoverageRules = `
CREATE TABLE IF NOT EXISTS coverage_rules (
    version TEXT NOT NULL,
    id TEXT NOT NULL,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    source TEXT,
    keywords TEXT NOT NULL,
    verdict TEXT NOT NULL,
    cost_ceiling TEXT,
    prior_authorization INTEGER NOT NULL DEFAULT 0,
    physician_certification INTEGER NOT NULL DEFAULT 0,
    notes TEXT,
    PRIMARY KEY (version, id)
);
`

const schemaProcedureCodes = `
CREATE TABLE IF NOT EXISTS procedure_codes (
    version TEXT NOT NULL,
    code TEXT NOT NULL,
    position INTEGER NOT NULL,
    description TEXT NOT NULL,
    benefit_category TEXT,
    default_coverage TEXT,
    PRIMARY KEY (version, code)
);
`

const schemaBenefitCategories = `
CREATE TABLE IF NOT EXISTS benefit_categories (
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    position INTEGER NOT NULL,
    keywords TEXT NOT NULL,
    PRIMARY KEY (version, name)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaDecisions,
		schemaRuleSnapshots,
		schemaCoverageRules,
		schemaProcedureCodes,
		schemaBenefitCategories,
	}
}
