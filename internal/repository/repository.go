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

	"github.com/google/uuid"

	"github.com/opensource-finance/sentinel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
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

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
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

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveContract inserts or replaces a contract.
func (r *SQLRepository) SaveContract(ctx context.Context, tenantID string, c *domain.Contract) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contract id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode contract %s: %w", c.ID, err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO contracts (
			id, tenant_id, contractor_id, department, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			contractor_id = excluded.contractor_id,
			department = excluded.department,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.ContractorID, c.Department, string(payload), now, now,
	)
	return err
}

// GetContract retrieves a contract by ID with tenant isolation.
func (r *SQLRepository) GetContract(ctx context.Context, tenantID string, contractID string) (*domain.Contract, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM contracts WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, contractID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var c domain.Contract
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", contractID, err)
	}
	return &c, nil
}

// ListContracts returns every contract of a tenant in insertion order.
func (r *SQLRepository) ListContracts(ctx context.Context, tenantID string) ([]*domain.Contract, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT payload FROM contracts
		WHERE tenant_id = ?
		ORDER BY created_at, id
	`
	return r.queryContracts(ctx, query, tenantID)
}

// ListContractsByContractor returns a contractor's contracts.
func (r *SQLRepository) ListContractsByContractor(ctx context.Context, tenantID string, contractorID string) ([]*domain.Contract, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT payload FROM contracts
		WHERE tenant_id = ? AND contractor_id = ?
		ORDER BY created_at, id
	`
	return r.queryContracts(ctx, query, tenantID, contractorID)
}

func (r *SQLRepository) queryContracts(ctx context.Context, query string, args ...any) ([]*domain.Contract, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts := []*domain.Contract{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c domain.Contract
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode contract: %w", err)
		}
		contracts = append(contracts, &c)
	}
	return contracts, rows.Err()
}

// AddComplaint records a citizen complaint against a contract.
func (r *SQLRepository) AddComplaint(ctx context.Context, tenantID string, contractID string, text string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if strings.TrimSpace(contractID) == "" {
		return fmt.Errorf("%w: contract id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO complaints (id, tenant_id, contract_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), tenantID, contractID, text, time.Now().UTC(),
	)
	return err
}

// ComplaintCounts returns the number of complaints per contract.
func (r *SQLRepository) ComplaintCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT contract_id, COUNT(*) FROM complaints
		WHERE tenant_id = ?
		GROUP BY contract_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(rule.Severity), enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs returns the enabled rules of a tenant, latest version per
// rule id, ordered by id.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []*domain.RuleConfig{}
	seen := make(map[string]bool)
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var severity string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &severity, &enabled,
		); err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			continue
		}
		seen[cfg.ID] = true

		cfg.Description = description.String
		cfg.Severity = domain.Severity(severity)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// SaveAssessment stores an assessment record.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", rec.ID, err)
	}
	flagged := 0
	if rec.Flagged {
		flagged = 1
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, subject_type, subject_id, level, flagged, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.SubjectType, rec.SubjectID, string(rec.Level), flagged,
		string(payload), rec.CreatedAt,
	)
	return err
}

// GetAssessment retrieves an assessment record by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, id string) (*domain.AssessmentRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM assessments WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec domain.AssessmentRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", id, err)
	}
	return &rec, nil
}

// SaveModelArtifact stores or replaces a model artifact.
func (r *SQLRepository) SaveModelArtifact(ctx context.Context, a *domain.ModelArtifact) error {
	if a == nil || a.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO model_artifacts (name, version, schema_key, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			schema_key = excluded.schema_key,
			data = excluded.data,
			created_at = excluded.created_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.Name, a.Version, a.SchemaKey, string(a.Data), a.CreatedAt.UTC(),
	)
	return err
}

// GetModelArtifact retrieves a model artifact by name.
func (r *SQLRepository) GetModelArtifact(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	query := `
		SELECT name, version, schema_key, data, created_at
		FROM model_artifacts
		WHERE name = ?
	`

	var a domain.ModelArtifact
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&a.Name, &a.Version, &a.SchemaKey, &data, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Data = []byte(data)
	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
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
