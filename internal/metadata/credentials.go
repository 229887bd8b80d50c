// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"

	"storj.io/vaultstorage/internal/errs2"
)

const credentialColumns = `id, tenant_id, access_key_id, encrypted_secret, role, sub, created_at`

func scanCredential(row interface{ Scan(...any) error }) (S3Credential, error) {
	var c S3Credential
	if err := row.Scan(&c.ID, &c.TenantID, &c.AccessKeyID, &c.EncryptedSecret, &c.Role, &c.Sub, &c.CreatedAt); err != nil {
		return S3Credential{}, err
	}
	return c, nil
}

// CreateS3Credential inserts a new per-tenant access-key/secret-key pair
// with embedded policy claims (spec §3 S3 Credential).
func (r *TenantRegistry) CreateS3Credential(ctx context.Context, c S3Credential) (S3Credential, error) {
	if c.ID == "" {
		c.ID = NewID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO s3_credentials (id, tenant_id, access_key_id, encrypted_secret, role, sub)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TenantID, c.AccessKeyID, c.EncryptedSecret, c.Role, c.Sub)
	if err != nil {
		return S3Credential{}, normalize(err, c.AccessKeyID)
	}
	return c, nil
}

// GetS3CredentialByAccessKey looks up a credential by its access key id,
// used to authenticate SigV4-signed S3-wire requests.
func (r *TenantRegistry) GetS3CredentialByAccessKey(ctx context.Context, accessKeyID string) (S3Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM s3_credentials WHERE access_key_id = $1`, accessKeyID)
	c, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return S3Credential{}, errs2.New(errs2.KindInvalidSignature, accessKeyID, "unknown access key")
		}
		return S3Credential{}, normalize(err, accessKeyID)
	}
	return c, nil
}

// ListS3Credentials lists all credentials for a tenant.
func (r *TenantRegistry) ListS3Credentials(ctx context.Context, tenantID string) ([]S3Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM s3_credentials WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, normalize(err, tenantID)
	}
	defer func() { _ = rows.Close() }()

	var out []S3Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, normalize(err, tenantID)
		}
		out = append(out, c)
	}
	return out, normalize(rows.Err(), tenantID)
}

// DeleteS3Credential revokes a credential.
func (r *TenantRegistry) DeleteS3Credential(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM s3_credentials WHERE id = $1`, id)
	if err != nil {
		return normalize(err, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, id)
	}
	if n == 0 {
		return errs2.New(errs2.KindInvalidParameter, id, "no such credential")
	}
	return nil
}
