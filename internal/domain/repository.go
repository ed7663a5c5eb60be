// Package domain defines the core records, interfaces and configuration for
// the Sentinel risk engine.
package domain

import (
	"context"
)

// Repository defines the interface for data persistence.
// All tenant-scoped methods require tenantID for strict isolation.
type Repository interface {
	// Contract operations
	SaveContract(ctx context.Context, tenantID string, c *Contract) error
	GetContract(ctx context.Context, tenantID string, contractID string) (*Contract, error)
	ListContracts(ctx context.Context, tenantID string) ([]*Contract, error)
	ListContractsByContractor(ctx context.Context, tenantID string, contractorID string) ([]*Contract, error)

	// Citizen complaints
	AddComplaint(ctx context.Context, tenantID string, contractID string, text string) error
	ComplaintCounts(ctx context.Context, tenantID string) (map[string]int, error)

	// Custom rule operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Assessments
	SaveAssessment(ctx context.Context, tenantID string, rec *AssessmentRecord) error
	GetAssessment(ctx context.Context, tenantID string, id string) (*AssessmentRecord, error)

	// Model artifacts are global, not tenant scoped.
	SaveModelArtifact(ctx context.Context, a *ModelArtifact) error
	GetModelArtifact(ctx context.Context, name string) (*ModelArtifact, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `toml:"driver"`

	// SQLite specific
	SQLitePath string `toml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `toml:"postgres_host"`
	PostgresPort     int    `toml:"postgres_port"`
	PostgresUser     string `toml:"postgres_user"`
	PostgresPassword string `toml:"postgres_password"`
	PostgresDB       string `toml:"postgres_db"`
	PostgresSSLMode  string `toml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns       int `toml:"max_open_conns"`
	MaxIdleConns       int `toml:"max_idle_conns"`
	ConnMaxLifetimeSec int `toml:"conn_max_lifetime_sec"`
}
