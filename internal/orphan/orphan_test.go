// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package orphan_test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/orphan"
)

// newTestStore opens TEST_DATABASE_URL, skipping when unset. ListOrphaned's
// catalog anti-join runs real SQL (ListAllObjectKeys/ReconcileBackendKeys)
// with no fake substitute.
func newTestStore(t *testing.T) *metadata.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres-backed test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("could not reach TEST_DATABASE_URL: %v", err)
	}
	return metadata.NewStore(zap.NewNop(), func(tenantID string) (*sql.DB, error) { return db, nil })
}

// TestDeleteOrphansRemovesS3SideWithoutCatalog exercises the pure blob-side
// half of DeleteOrphans: it needs no database since SideS3 findings never
// touch the catalog.
func TestDeleteOrphansRemovesS3SideWithoutCatalog(t *testing.T) {
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()
	const bucket = "global"
	const bucketID = "bkt1"

	_, err := backend.Write(ctx, bucket, bucketID+"/lost.bin", "v1", strings.NewReader("x"), "application/octet-stream", "")
	require.NoError(t, err)

	res, err := backend.List(ctx, bucket, blob.ListOptions{Prefix: bucketID + "/"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	scanner := orphan.New(zap.NewNop(), nil, backend, bucket, 100, time.Second)
	deleted, err := scanner.DeleteOrphans(ctx, "tenant-x", "bucketname", []orphan.Finding{
		{Side: orphan.SideS3, BucketID: bucketID, Key: res.Entries[0].Key},
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	res, err = backend.List(ctx, bucket, blob.ListOptions{Prefix: bucketID + "/"})
	require.NoError(t, err)
	require.Empty(t, res.Entries)
}

func TestListOrphanedFindsS3SideOrphan(t *testing.T) {
	store := newTestStore(t)
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()
	const bucket = "global"
	bucketID := "bkt-" + metadata.NewID()
	const bucketName = "photos"

	_, err := backend.Write(ctx, bucket, tenantID+"/"+bucketName+"/untracked.png", "v1", strings.NewReader("x"), "image/png", "")
	require.NoError(t, err)

	scanner := orphan.New(zap.NewNop(), store, backend, bucket, 100, time.Hour)

	var findings []orphan.Finding
	for ev := range scanner.ListOrphaned(ctx, tenantID, bucketID, bucketName) {
		if ev.Finding != nil {
			findings = append(findings, *ev.Finding)
		}
	}
	require.NotEmpty(t, findings)
	require.Equal(t, orphan.SideS3, findings[0].Side)
}
