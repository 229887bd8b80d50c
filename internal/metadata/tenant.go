// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"encoding/json"

	"storj.io/vaultstorage/internal/errs2"
)

const tenantColumns = `id, encrypted_database_url, encrypted_pool_url, max_connections, encrypted_jwt_secret, jwks_url, feature_flags, max_object_size_bytes, migrations_version, migrations_status, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (Tenant, error) {
	var t Tenant
	var flagsJSON []byte
	if err := row.Scan(&t.ID, &t.EncryptedDatabaseURL, &t.EncryptedPoolURL, &t.MaxConnections, &t.EncryptedJWTSecret, &t.JWKSURL, &flagsJSON, &t.MaxObjectSizeBytes, &t.MigrationsVersion, &t.MigrationsStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Tenant{}, err
	}
	if len(flagsJSON) > 0 {
		_ = json.Unmarshal(flagsJSON, &t.FeatureFlags)
	}
	return t, nil
}

// TenantRegistry is the super-user-only CRUD surface over tenants, backed
// by the control-plane database (distinct from any tenant's own catalog
// pool). Unlike Store.WithTransaction, these operations always run against
// a single shared admin pool.
type TenantRegistry struct {
	db *sql.DB
}

// NewTenantRegistry wraps an already-open control-plane *sql.DB.
func NewTenantRegistry(db *sql.DB) *TenantRegistry { return &TenantRegistry{db: db} }

// RegisterTenant inserts a new tenant row (spec §3 Tenant "created on
// tenant-register").
func (r *TenantRegistry) RegisterTenant(ctx context.Context, t Tenant) (Tenant, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.MigrationsStatus == "" {
		t.MigrationsStatus = MigrationPending
	}
	flagsJSON, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return Tenant{}, Error.Wrap(err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, encrypted_database_url, encrypted_pool_url, max_connections, encrypted_jwt_secret, jwks_url, feature_flags, max_object_size_bytes, migrations_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.EncryptedDatabaseURL, t.EncryptedPoolURL, t.MaxConnections, t.EncryptedJWTSecret, t.JWKSURL, flagsJSON, t.MaxObjectSizeBytes, t.MigrationsStatus)
	if err != nil {
		return Tenant{}, normalize(err, t.ID)
	}
	return t, nil
}

// GetTenant fetches a tenant by id.
func (r *TenantRegistry) GetTenant(ctx context.Context, id string) (Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Tenant{}, errs2.New(errs2.KindTenantNotFound, id, "no such tenant")
		}
		return Tenant{}, normalize(err, id)
	}
	return t, nil
}

// ListTenants returns every registered tenant, used by the fleet scheduler
// (spec §4.9) to enumerate migration targets.
func (r *TenantRegistry) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, t)
	}
	return out, normalize(rows.Err(), "")
}

// UpdateMigrationStatus records the outcome of a per-tenant migration run
// (spec §4.9).
func (r *TenantRegistry) UpdateMigrationStatus(ctx context.Context, tenantID, version string, status MigrationStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET migrations_version = $2, migrations_status = $3, updated_at = now() WHERE id = $1`,
		tenantID, version, status)
	if err != nil {
		return normalize(err, tenantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, tenantID)
	}
	if n == 0 {
		return errs2.New(errs2.KindTenantNotFound, tenantID, "no such tenant")
	}
	return nil
}

// ListFailedTenants pages tenants whose last migration run failed,
// keyed by id for stable cursoring (spec §4.9 "/failed ... keyed by
// cursor_id").
func (r *TenantRegistry) ListFailedTenants(ctx context.Context, afterID string, limit int) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE migrations_status = $1 AND id > $2
		ORDER BY id LIMIT $3`, MigrationFailed, afterID, limit)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, t)
	}
	return out, normalize(rows.Err(), "")
}

// CountPendingTenants returns the number of tenants not yet at
// MigrationCompleted, used by the fleet progress endpoint.
func (r *TenantRegistry) CountPendingTenants(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM tenants WHERE migrations_status != $1`, MigrationCompleted).Scan(&n)
	if err != nil {
		return 0, normalize(err, "")
	}
	return n, nil
}

// ResetMigration marks tenantID as not-yet-run from upToVersion onward,
// optionally forcing everything through forceCompletedPrefix to
// completed first — used to re-run a contiguous tail of migrations
// (spec §4.9 Reset).
func (r *TenantRegistry) ResetMigration(ctx context.Context, tenantID, upToVersion, forceCompletedPrefix string) error {
	version := upToVersion
	if forceCompletedPrefix != "" {
		version = forceCompletedPrefix
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET migrations_version = $2, migrations_status = $3, updated_at = now() WHERE id = $1`,
		tenantID, version, MigrationPending)
	if err != nil {
		return normalize(err, tenantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, tenantID)
	}
	if n == 0 {
		return errs2.New(errs2.KindTenantNotFound, tenantID, "no such tenant")
	}
	return nil
}

// LockTenantMigration takes a short Postgres advisory lock on the
// control-plane connection, serializing migration runs for tenantID
// across worker processes (spec §4.9 "serialized by a per-tenant
// advisory lock held inside the migration transaction").
func (r *TenantRegistry) LockTenantMigration(ctx context.Context, tx *sql.Tx, tenantID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "migration:"+tenantID)
	return normalize(err, tenantID)
}

// BeginAdmin opens a transaction on the control-plane database, used by
// the migration fleet runner to hold LockTenantMigration for the
// lifetime of one tenant's migration run.
func (r *TenantRegistry) BeginAdmin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, normalize(err, "")
	}
	return tx, nil
}

// DeleteTenant removes a tenant row (spec §3 "destroyed on tenant-delete").
// The caller is responsible for dropping the tenant's connection pool
// (Store.DropPool) after this returns.
func (r *TenantRegistry) DeleteTenant(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return normalize(err, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, id)
	}
	if n == 0 {
		return errs2.New(errs2.KindTenantNotFound, id, "no such tenant")
	}
	return nil
}
