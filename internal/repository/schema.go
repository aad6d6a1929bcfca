package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.
//
// Amounts, fees and risk scores are stored as TEXT: they are exact
// decimals and must round-trip without floating point drift.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    chain TEXT,
    symbol TEXT,
    from_address TEXT,
    to_address TEXT,
    amount TEXT NOT NULL,
    fee TEXT NOT NULL,
    direction TEXT,
    memo TEXT,
    tags TEXT,
    is_internal INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(tenant_id, from_address);
`

const schemaAnnotations = `
CREATE TABLE IF NOT EXISTS annotations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    category TEXT NOT NULL,
    tag_results TEXT,
    risk_score TEXT NOT NULL,
    risk_flags TEXT,
    alerted INTEGER NOT NULL DEFAULT 0,
    alert_matches TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_tenant ON annotations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_annotations_tx ON annotations(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_annotations_timestamp ON annotations(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_annotations_alerted ON annotations(tenant_id, alerted);
`

const schemaOwnedAddresses = `
CREATE TABLE IF NOT EXISTS owned_addresses (
    tenant_id TEXT NOT NULL,
    address TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, address)
);

CREATE INDEX IF NOT EXISTS idx_owned_addresses_tenant ON owned_addresses(tenant_id);
`

const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAnnotations,
		schemaOwnedAddresses,
		schemaAlertRules,
	}
}
