// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
)

// BackendKey is one (bucket, key, version) triple as the catalog records
// it, shaped for comparison against the blob backend's key space.
type BackendKey struct {
	BucketID string
	Key      string
	Version  string
}

// ListAllObjectKeys pages through every live object version in the
// catalog, used by the orphan scanner to build the "known to the
// database" side of the reconciliation (spec §4.7).
func (tx *Tx) ListAllObjectKeys(ctx context.Context, afterName string, limit int) ([]BackendKey, error) {
	rows, err := tx.tx.QueryContext(ctx, `
		SELECT bucket_id, name, version FROM objects
		WHERE name > $1 ORDER BY name LIMIT $2`, afterName, limit)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []BackendKey
	for rows.Next() {
		var k BackendKey
		if err := rows.Scan(&k.BucketID, &k.Key, &k.Version); err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, k)
	}
	return out, normalize(rows.Err(), "")
}

// ReconcileBackendKeys loads candidateKeys ("bucket_id/key/version" strings
// observed on the blob backend) into a transaction-scoped temp table and
// left-anti-joins it against objects, returning catalog rows with no
// matching backend key (spec §4.7 "temp-table left-anti-join producing
// ... dbOrphans"). The inverse direction (backend keys absent from the
// catalog, "s3Orphans") is computed by the caller in Go against
// ListAllObjectKeys, since it needs no SQL join.
func (tx *Tx) ReconcileBackendKeys(ctx context.Context, candidateKeys []string) ([]BackendKey, error) {
	if _, err := tx.tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS backend_seen (composite text PRIMARY KEY) ON COMMIT DROP`); err != nil {
		return nil, normalize(err, "")
	}
	for _, k := range candidateKeys {
		if _, err := tx.tx.ExecContext(ctx, `INSERT INTO backend_seen (composite) VALUES ($1) ON CONFLICT DO NOTHING`, k); err != nil {
			return nil, normalize(err, k)
		}
	}

	rows, err := tx.tx.QueryContext(ctx, `
		SELECT o.bucket_id, o.name, o.version
		FROM objects o
		LEFT JOIN backend_seen b ON b.composite = o.bucket_id || '/' || o.name || '/' || o.version
		WHERE b.composite IS NULL`)
	if err != nil {
		return nil, normalize(err, "")
	}
	defer func() { _ = rows.Close() }()

	var out []BackendKey
	for rows.Next() {
		var k BackendKey
		if err := rows.Scan(&k.BucketID, &k.Key, &k.Version); err != nil {
			return nil, normalize(err, "")
		}
		out = append(out, k)
	}
	return out, normalize(rows.Err(), "")
}
