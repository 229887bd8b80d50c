// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package tus_test

import (
	"context"
	"database/sql"
	"io"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/lock"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/tus"
)

func TestParseUploadIDRoundTrip(t *testing.T) {
	uid, err := tus.ParseUploadID("tenant-1/photos/cat.png-$v-abc123", "-$v-")
	require.NoError(t, err)
	require.Equal(t, tus.UploadID{Tenant: "tenant-1", Bucket: "photos", Object: "cat.png", Version: "abc123"}, uid)
	require.Equal(t, "tenant-1/photos/cat.png-$v-abc123", uid.String("-$v-"))
}

func TestParseUploadIDRejectsMissingComponents(t *testing.T) {
	_, err := tus.ParseUploadID("tenant-1/photos", "-$v-")
	require.Error(t, err)

	_, err = tus.ParseUploadID("tenant-1/photos/cat.png", "-$v-")
	require.Error(t, err)

	_, err = tus.ParseUploadID("tenant-1//cat.png-$v-abc123", "-$v-")
	require.Error(t, err)
}

// noopPublisher satisfies lock.ReleasePublisher without Redis; the
// database-advisory DBLock only calls it under contention, which these
// single-writer tests never hit.
type noopPublisher struct{}

func (noopPublisher) PublishReleaseRequest(ctx context.Context, id string) error { return nil }
func (noopPublisher) SubscribeReleaseRequests(ctx context.Context, id string, onRequest func()) (func(), error) {
	return func() {}, nil
}

func newTestEngine(t *testing.T) (*tus.Engine, *metadata.Store, blob.Backend) {
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

	store := metadata.NewStore(zap.NewNop(), func(tenantID string) (*sql.DB, error) { return db, nil })
	backend := blob.NewFSBackend(t.TempDir())
	dbLock := lock.NewDBLock(zap.NewNop(), noopPublisher{})
	engine := tus.New(zap.NewNop(), store, backend, dbLock, tus.Config{GlobalBucket: "global", PartSize: 4})
	return engine, store, backend
}

func TestCreatePatchFinalizesWhenLengthReached(t *testing.T) {
	engine, store, backend := newTestEngine(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()
	identity := metadata.Identity{Sub: "alice", Role: "member"}

	var bucketID string
	require.NoError(t, store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.CreateBucket(ctx, metadata.Bucket{Name: "photos-" + metadata.NewID(), Owner: identity.Sub})
		if err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	}))

	rc := tus.NewRequestContext(tenantID, identity.Sub, identity)
	created, err := engine.Create(ctx, tus.CreateOptions{
		RC: rc, BucketID: bucketID,
		Meta:         tus.Metadata{BucketName: "photos", ObjectName: "cat.png", ContentType: "image/png"},
		UploadLength: 4,
	})
	require.NoError(t, err)
	require.Equal(t, tus.StateCreated, created.State)

	offset, err := engine.Offset(ctx, rc, bucketID, created.UploadID)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	patched, err := engine.Patch(ctx, tus.PatchOptions{
		RC: rc, BucketID: bucketID, UploadID: created.UploadID,
		ExpectOffset: 0, Body: strings.NewReader("data"), BodyLength: 4,
	})
	require.NoError(t, err)
	require.Equal(t, tus.StateFinalized, patched.State)
	require.Equal(t, int64(4), patched.Finalized.Metadata.Size)

	read, err := backend.Read(ctx, "global", tenantID+"/photos/cat.png", created.UploadID.Version, blob.ReadOptions{})
	require.NoError(t, err)
	defer func() { _ = read.Body.Close() }()
	body, err := io.ReadAll(read.Body)
	require.NoError(t, err)
	require.Equal(t, "data", string(body))
}

func TestPatchRejectsOffsetMismatch(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()
	identity := metadata.Identity{Sub: "bob", Role: "member"}

	var bucketID string
	require.NoError(t, store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.CreateBucket(ctx, metadata.Bucket{Name: "docs-" + metadata.NewID(), Owner: identity.Sub})
		if err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	}))

	rc := tus.NewRequestContext(tenantID, identity.Sub, identity)
	created, err := engine.Create(ctx, tus.CreateOptions{
		RC: rc, BucketID: bucketID,
		Meta:         tus.Metadata{BucketName: "docs", ObjectName: "a.txt", ContentType: "text/plain"},
		UploadLength: 8,
	})
	require.NoError(t, err)

	_, err = engine.Patch(ctx, tus.PatchOptions{
		RC: rc, BucketID: bucketID, UploadID: created.UploadID,
		ExpectOffset: 4, Body: strings.NewReader("data"), BodyLength: 4,
	})
	require.Error(t, err)
}

func TestAbortRemovesUploadRecord(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()
	identity := metadata.Identity{Sub: "carol", Role: "member"}

	var bucketID string
	require.NoError(t, store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.CreateBucket(ctx, metadata.Bucket{Name: "docs-" + metadata.NewID(), Owner: identity.Sub})
		if err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	}))

	rc := tus.NewRequestContext(tenantID, identity.Sub, identity)
	created, err := engine.Create(ctx, tus.CreateOptions{
		RC: rc, BucketID: bucketID,
		Meta:         tus.Metadata{BucketName: "docs", ObjectName: "b.txt", ContentType: "text/plain"},
		UploadLength: 8,
	})
	require.NoError(t, err)

	require.NoError(t, engine.Abort(ctx, rc, bucketID, created.UploadID))

	_, err = engine.Offset(ctx, rc, bucketID, created.UploadID)
	require.Error(t, err)
}
