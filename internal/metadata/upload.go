// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"storj.io/vaultstorage/internal/errs2"
)

const uploadColumns = `id, bucket_id, object_name, version, type, upload_id, "offset", length, length_known, metadata, parts, expires_at, created_at, updated_at`

func scanUpload(row interface{ Scan(...any) error }) (Upload, error) {
	var u Upload
	var metaJSON, partsJSON []byte
	if err := row.Scan(&u.ID, &u.BucketID, &u.ObjectName, &u.Version, &u.Type, &u.UploadID, &u.Offset, &u.Length, &u.LengthKnown, &metaJSON, &partsJSON, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return Upload{}, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &u.Metadata)
	}
	if len(partsJSON) > 0 {
		_ = json.Unmarshal(partsJSON, &u.Parts)
	}
	return u, nil
}

// CreateUpload inserts a new Upload Record (spec §3, §4.5).
func (tx *Tx) CreateUpload(ctx context.Context, u Upload) (Upload, error) {
	if u.ID == "" {
		u.ID = NewID()
	}
	metaJSON, err := json.Marshal(u.Metadata)
	if err != nil {
		return Upload{}, Error.Wrap(err)
	}
	partsJSON, err := json.Marshal(u.Parts)
	if err != nil {
		return Upload{}, Error.Wrap(err)
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO uploads (id, bucket_id, object_name, version, type, upload_id, "offset", length, length_known, metadata, parts, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.BucketID, u.ObjectName, u.Version, u.Type, u.UploadID, u.Offset, u.Length, u.LengthKnown, metaJSON, partsJSON, u.ExpiresAt)
	if err != nil {
		return Upload{}, normalize(err, u.ObjectName)
	}
	return u, nil
}

// GetUpload fetches an Upload Record by (bucketID, objectName, version).
func (tx *Tx) GetUpload(ctx context.Context, bucketID, objectName, version string) (Upload, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT `+uploadColumns+` FROM uploads WHERE bucket_id = $1 AND object_name = $2 AND version = $3`,
		bucketID, objectName, version)
	u, err := scanUpload(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Upload{}, errs2.New(errs2.KindNoSuchUpload, objectName, "no such upload")
		}
		return Upload{}, normalize(err, objectName)
	}
	return u, nil
}

// UpdateUploadProgress advances the recorded offset and appends the part
// just completed by a PATCH (spec §4.5 PATCH handling), so the ordered part
// list survives across requests and is available at finalize time for
// blob.Backend.CompleteMultipartUpload.
func (tx *Tx) UpdateUploadProgress(ctx context.Context, uploadID string, offset int64, parts []UploadPart) error {
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return Error.Wrap(err)
	}
	res, err := tx.tx.ExecContext(ctx, `UPDATE uploads SET "offset" = $2, parts = $3, updated_at = now() WHERE id = $1`, uploadID, offset, partsJSON)
	if err != nil {
		return normalize(err, uploadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, uploadID)
	}
	if n == 0 {
		return errs2.New(errs2.KindNoSuchUpload, uploadID, "no such upload")
	}
	return nil
}

// DeleteUpload removes an Upload Record (finalize, abort, or expiry).
func (tx *Tx) DeleteUpload(ctx context.Context, uploadID string) error {
	_, err := tx.tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = $1`, uploadID)
	return normalize(err, uploadID)
}

// ListExpiredUploads returns pending uploads whose expires_at has passed,
// used by the TUS sweeper (spec §4.5 Expiry).
func (tx *Tx) ListExpiredUploads(ctx context.Context, now time.Time, limit int) ([]Upload, error) {
	rows, err := tx.tx.QueryContext(ctx, `
		SELECT `+uploadColumns+` FROM uploads WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, u)
	}
	return out, normalize(rows.Err(), "")
}
