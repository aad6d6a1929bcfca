package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Annotation results
	SaveAnnotation(ctx context.Context, tenantID string, ann *Annotation) error
	GetAnnotation(ctx context.Context, tenantID string, annID string) (*Annotation, error)
	ListAnnotations(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Annotation, error)

	// Owned addresses (address book source of truth)
	AddOwnedAddresses(ctx context.Context, tenantID string, addresses []string) error
	ListOwnedAddresses(ctx context.Context, tenantID string) ([]string, error)
	RemoveOwnedAddress(ctx context.Context, tenantID string, address string) error

	// Alert rule configuration
	SaveAlertRule(ctx context.Context, tenantID string, rule *AlertRule) error
	GetAlertRule(ctx context.Context, tenantID string, ruleID string) (*AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
