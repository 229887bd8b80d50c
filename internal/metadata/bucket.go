// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"encoding/json"

	"storj.io/vaultstorage/internal/errs2"
)

// CreateBucket inserts a new bucket row. Uniqueness is (tenant, name); the
// tenant scoping comes from which pool the transaction was opened against.
func (tx *Tx) CreateBucket(ctx context.Context, b Bucket) (Bucket, error) {
	mimeJSON, err := json.Marshal(b.AllowedMimeTypes)
	if err != nil {
		return Bucket{}, Error.Wrap(err)
	}
	if b.ID == "" {
		b.ID = NewID()
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO buckets (id, name, owner, public, size_limit_bytes, allowed_mime_types, disk_ref, placement)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.Name, b.Owner, b.Public, b.SizeLimitBytes, mimeJSON, b.DiskRef, b.Placement)
	if err != nil {
		return Bucket{}, normalize(err, b.Name)
	}
	return b, nil
}

func scanBucket(row interface{ Scan(...any) error }) (Bucket, error) {
	var b Bucket
	var mimeJSON []byte
	if err := row.Scan(&b.ID, &b.Name, &b.Owner, &b.Public, &b.SizeLimitBytes, &mimeJSON, &b.DiskRef, &b.Placement, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Bucket{}, err
	}
	if len(mimeJSON) > 0 {
		_ = json.Unmarshal(mimeJSON, &b.AllowedMimeTypes)
	}
	return b, nil
}

const bucketColumns = `id, name, owner, public, size_limit_bytes, allowed_mime_types, disk_ref, placement, created_at, updated_at`

// GetBucket fetches a bucket by name.
func (tx *Tx) GetBucket(ctx context.Context, name string) (Bucket, error) {
	row := tx.tx.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE name = $1`, name)
	b, err := scanBucket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Bucket{}, errs2.New(errs2.KindNoSuchBucket, name, "no such bucket")
		}
		return Bucket{}, normalize(err, name)
	}
	return b, nil
}

// UpdateBucket updates the mutable bucket fields.
func (tx *Tx) UpdateBucket(ctx context.Context, b Bucket) error {
	mimeJSON, err := json.Marshal(b.AllowedMimeTypes)
	if err != nil {
		return Error.Wrap(err)
	}
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE buckets SET public = $2, size_limit_bytes = $3, allowed_mime_types = $4, disk_ref = $5, placement = $6, updated_at = now()
		WHERE id = $1`,
		b.ID, b.Public, b.SizeLimitBytes, mimeJSON, b.DiskRef, b.Placement)
	if err != nil {
		return normalize(err, b.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, b.ID)
	}
	if n == 0 {
		return errs2.New(errs2.KindNoSuchBucket, b.ID, "no such bucket")
	}
	return nil
}

// CountObjectsInBucket counts objects in a bucket, capped at limit (spec
// §4.2), used to enforce "deletion is blocked while non-empty" without
// paying for a full count on very large buckets.
func (tx *Tx) CountObjectsInBucket(ctx context.Context, bucketID string, limit int) (int, error) {
	var n int
	err := tx.tx.QueryRowContext(ctx, `
		SELECT count(*) FROM (SELECT 1 FROM objects WHERE bucket_id = $1 LIMIT $2) t`,
		bucketID, limit).Scan(&n)
	if err != nil {
		return 0, normalize(err, bucketID)
	}
	return n, nil
}

// DeleteBucket removes a bucket row. Callers must have already verified
// CountObjectsInBucket == 0 (spec §3 "Deletion is blocked while non-empty").
func (tx *Tx) DeleteBucket(ctx context.Context, bucketID string) error {
	res, err := tx.tx.ExecContext(ctx, `DELETE FROM buckets WHERE id = $1`, bucketID)
	if err != nil {
		return normalize(err, bucketID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, bucketID)
	}
	if n == 0 {
		return errs2.New(errs2.KindNoSuchBucket, bucketID, "no such bucket")
	}
	return nil
}

// ListBuckets lists all buckets visible to the caller's identity (policy
// enforcement happens via the row-level-security settings attached in
// WithTransaction).
func (tx *Tx) ListBuckets(ctx context.Context) ([]Bucket, error) {
	rows, err := tx.tx.QueryContext(ctx, `SELECT `+bucketColumns+` FROM buckets ORDER BY name`)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, b)
	}
	return out, normalize(rows.Err(), "")
}
