// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
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

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
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

// SaveTransaction stores a transaction with tenant isolation. Saving the
// same ID again overwrites the previous record.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tags, _ := json.Marshal(tx.Tags)
	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, chain, symbol, from_address, to_address,
			amount, fee, direction, memo, tags, is_internal,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, tenant_id) DO UPDATE SET
			chain = excluded.chain,
			symbol = excluded.symbol,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			amount = excluded.amount,
			fee = excluded.fee,
			direction = excluded.direction,
			memo = excluded.memo,
			tags = excluded.tags,
			is_internal = excluded.is_internal,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Chain, tx.Symbol,
		tx.FromAddress, tx.ToAddress,
		tx.Amount.String(), tx.Fee.String(),
		tx.Direction, tx.Memo,
		string(tags), boolToInt(tx.IsInternal),
		tx.Timestamp, tx.CreatedAt,
		string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, chain, symbol, from_address, to_address,
			   amount, fee, direction, memo, tags, is_internal,
			   timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var amount, fee, tags, metadata string
	var isInternal int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.Chain, &tx.Symbol,
		&tx.FromAddress, &tx.ToAddress,
		&amount, &fee, &tx.Direction, &tx.Memo,
		&tags, &isInternal,
		&tx.Timestamp, &tx.CreatedAt,
		&metadata,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	tx.Amount = parseDecimal(amount)
	tx.Fee = parseDecimal(fee)
	tx.IsInternal = isInternal != 0
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &tx.Tags)
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// SaveAnnotation stores an annotation result.
func (r *SQLRepository) SaveAnnotation(ctx context.Context, tenantID string, ann *domain.Annotation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tagResults, _ := json.Marshal(ann.TagResults)
	riskFlags, _ := json.Marshal(ann.RiskFlags)
	alertMatches, _ := json.Marshal(ann.AlertMatches)
	metadata, _ := json.Marshal(ann.Metadata)

	query := `
		INSERT INTO annotations (
			id, tenant_id, tx_id, category, tag_results,
			risk_score, risk_flags, alerted, alert_matches,
			timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ann.ID, tenantID, ann.TxID, ann.Category, string(tagResults),
		ann.RiskScore.String(), string(riskFlags),
		boolToInt(ann.Alerted), string(alertMatches),
		ann.Timestamp, string(metadata),
	)
	return err
}

// GetAnnotation retrieves an annotation by ID with tenant isolation.
func (r *SQLRepository) GetAnnotation(ctx context.Context, tenantID string, annID string) (*domain.Annotation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, category, tag_results,
			   risk_score, risk_flags, alerted, alert_matches,
			   timestamp, metadata
		FROM annotations
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, annID)
	ann, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return ann, nil
}

// ListAnnotations returns annotations since the given time, newest first.
func (r *SQLRepository) ListAnnotations(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.Annotation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, tx_id, category, tag_results,
			   risk_score, risk_flags, alerted, alert_matches,
			   timestamp, metadata
		FROM annotations
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	var anns []*domain.Annotation
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		anns = append(anns, ann)
	}
	return anns, rows.Err()
}

// AddOwnedAddresses registers addresses as owned by the tenant.
// Duplicates are ignored.
func (r *SQLRepository) AddOwnedAddresses(ctx context.Context, tenantID string, addresses []string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO owned_addresses (tenant_id, address, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, address) DO NOTHING
	`

	now := time.Now().UTC()
	for _, address := range addresses {
		if address == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, address, now); err != nil {
			return fmt.Errorf("failed to add owned address: %w", err)
		}
	}
	return nil
}

// ListOwnedAddresses returns all owned addresses for a tenant.
func (r *SQLRepository) ListOwnedAddresses(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT address FROM owned_addresses WHERE tenant_id = ? ORDER BY address`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

// RemoveOwnedAddress unregisters one owned address.
func (r *SQLRepository) RemoveOwnedAddress(ctx context.Context, tenantID string, address string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM owned_addresses WHERE tenant_id = ? AND address = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, address)
	if err != nil {
		return fmt.Errorf("failed to remove owned address: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAlertRule stores or updates an alert rule.
func (r *SQLRepository) SaveAlertRule(ctx context.Context, tenantID string, rule *domain.AlertRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alert_rules (
			id, tenant_id, name, description, expression,
			severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Expression,
		rule.Severity, boolToInt(rule.Enabled), createdAt, now,
	)
	return err
}

// GetAlertRule retrieves an alert rule by ID with tenant isolation.
func (r *SQLRepository) GetAlertRule(ctx context.Context, tenantID string, ruleID string) (*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression,
			   severity, enabled, created_at, updated_at
		FROM alert_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.AlertRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Expression, &rule.Severity, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}

	rule.Enabled = enabled != 0
	return &rule, nil
}

// ListAlertRules returns all alert rules for a tenant, sorted by ID.
func (r *SQLRepository) ListAlertRules(ctx context.Context, tenantID string) ([]*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression,
			   severity, enabled, created_at, updated_at
		FROM alert_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Expression, &rule.Severity, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled != 0
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteAlertRule removes an alert rule.
func (r *SQLRepository) DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM alert_rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAnnotation(s scanner) (*domain.Annotation, error) {
	var ann domain.Annotation
	var tagResults, riskScore, riskFlags, alertMatches, metadata string
	var alerted int

	err := s.Scan(
		&ann.ID, &ann.TenantID, &ann.TxID, &ann.Category, &tagResults,
		&riskScore, &riskFlags, &alerted, &alertMatches,
		&ann.Timestamp, &metadata,
	)
	if err != nil {
		return nil, err
	}

	ann.RiskScore = parseDecimal(riskScore)
	ann.Alerted = alerted != 0
	if tagResults != "" {
		_ = json.Unmarshal([]byte(tagResults), &ann.TagResults)
	}
	if riskFlags != "" {
		_ = json.Unmarshal([]byte(riskFlags), &ann.RiskFlags)
	}
	if alertMatches != "" {
		_ = json.Unmarshal([]byte(alertMatches), &ann.AlertMatches)
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &ann.Metadata)
	}

	return &ann, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
