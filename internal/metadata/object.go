// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"

	"storj.io/vaultstorage/internal/errs2"
)

const objectColumns = `id, bucket_id, name, owner, metadata, user_metadata, last_accessed_at, version, created_at, updated_at`

func scanObject(row interface{ Scan(...any) error }) (Object, error) {
	var o Object
	var sysJSON, userJSON []byte
	if err := row.Scan(&o.ID, &o.BucketID, &o.Name, &o.Owner, &sysJSON, &userJSON, &o.LastAccessedAt, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Object{}, err
	}
	if len(sysJSON) > 0 {
		_ = json.Unmarshal(sysJSON, &o.Metadata)
	}
	if len(userJSON) > 0 {
		_ = json.Unmarshal(userJSON, &o.UserMetadata)
	}
	return o, nil
}

// GetObject fetches the Object row for (bucketID, name), optionally with a
// row lock (spec §4.2 "Object CRUD with optional row lock").
func (tx *Tx) GetObject(ctx context.Context, bucketID, name string, lock LockMode) (Object, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE bucket_id = $1 AND name = $2` + lock.sqlSuffix()
	row := tx.tx.QueryRowContext(ctx, query, bucketID, name)
	o, err := scanObject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Object{}, errs2.New(errs2.KindNoSuchKey, name, "no such key")
		}
		return Object{}, normalize(err, name)
	}
	return o, nil
}

// FindOrCreateObjectForUpload atomically inserts the Object row or returns
// the existing one; fails with KeyAlreadyExists when isUpsert is false and
// a live row already exists (spec §4.2).
func (tx *Tx) FindOrCreateObjectForUpload(ctx context.Context, opts FindOrCreateObjectForUploadOptions) (Object, error) {
	existing, err := tx.GetObject(ctx, opts.BucketID, opts.ObjectName, LockForUpdate)
	switch {
	case err == nil:
		if !opts.IsUpsert {
			return Object{}, errs2.New(errs2.KindKeyAlreadyExists, opts.ObjectName, "key already exists")
		}
		return existing, nil
	case isKind(err, errs2.KindNoSuchKey):
		// fallthrough to insert
	default:
		return Object{}, err
	}

	o := Object{
		ID:       NewID(),
		BucketID: opts.BucketID,
		Name:     opts.ObjectName,
		Owner:    opts.Owner,
		Version:  opts.Version,
	}
	sysJSON, _ := json.Marshal(o.Metadata)
	userJSON, _ := json.Marshal(o.UserMetadata)
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO objects (id, bucket_id, name, owner, metadata, user_metadata, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.BucketID, o.Name, o.Owner, sysJSON, userJSON, o.Version)
	if err != nil {
		return Object{}, normalize(err, opts.ObjectName)
	}
	return o, nil
}

// CommitObjectVersion updates the Object row to reference a newly written
// version, replacing its system/user metadata (spec §4.3 step 7 commit).
func (tx *Tx) CommitObjectVersion(ctx context.Context, bucketID, name, version string, sys SystemMetadata, user map[string]string) error {
	sysJSON, err := json.Marshal(sys)
	if err != nil {
		return Error.Wrap(err)
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return Error.Wrap(err)
	}
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE objects SET version = $3, metadata = $4, user_metadata = $5, updated_at = now()
		WHERE bucket_id = $1 AND name = $2`,
		bucketID, name, version, sysJSON, userJSON)
	if err != nil {
		return normalize(err, name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, name)
	}
	if n == 0 {
		return errs2.New(errs2.KindNoSuchKey, name, "no such key")
	}
	return nil
}

// DeleteObject removes the Object row (spec §4.3 Delete). The caller is
// responsible for enqueuing ObjectAdminDeleteAllBefore afterwards.
func (tx *Tx) DeleteObject(ctx context.Context, bucketID, name string) (Object, error) {
	o, err := tx.GetObject(ctx, bucketID, name, LockForUpdate)
	if err != nil {
		return Object{}, err
	}
	_, err = tx.tx.ExecContext(ctx, `DELETE FROM objects WHERE bucket_id = $1 AND name = $2`, bucketID, name)
	if err != nil {
		return Object{}, normalize(err, name)
	}
	return o, nil
}

// ListObjects lists objects in bucketID with a key prefix, paged by name.
func (tx *Tx) ListObjects(ctx context.Context, bucketID, prefix string, after string, limit int) ([]Object, error) {
	rows, err := tx.tx.QueryContext(ctx, `
		SELECT `+objectColumns+` FROM objects
		WHERE bucket_id = $1 AND name LIKE $2 || '%' AND name > $3
		ORDER BY name LIMIT $4`,
		bucketID, prefix, after, limit)
	if err != nil {
		return nil, normalize(err, bucketID)
	}
	defer func() { _ = rows.Close() }()

	var out []Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, normalize(err, bucketID)
		}
		out = append(out, o)
	}
	return out, normalize(rows.Err(), bucketID)
}

// MustLockObject acquires a Postgres advisory lock keyed by a 64-bit hash
// of (bucket, key, version), raising ResourceLocked if unavailable (spec
// §4.2). The lock is held for the lifetime of tx.
func (tx *Tx) MustLockObject(ctx context.Context, bucket, key, version string) error {
	var ok bool
	err := tx.tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, objectLockKey(bucket, key, version)).Scan(&ok)
	if err != nil {
		return normalize(err, key)
	}
	if !ok {
		return errs2.New(errs2.KindResourceLocked, key, "object is locked by another transaction")
	}
	return nil
}

// objectLockKey hashes (bucket, key, version) into a 64-bit advisory-lock
// id, matching spec §4.2's "a 64-bit hash of the triple".
func objectLockKey(bucket, key, version string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(bucket))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(version))
	return int64(h.Sum64())
}

func isKind(err error, kind errs2.Kind) bool {
	r := errs2.Classify(err)
	return r.Kind == kind
}
