// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/vaultstorage/internal/metadata"
)

func TestBucketAndObjectCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()
	identity := metadata.Identity{Sub: "alice", Role: "member"}

	var bucketID string
	err := store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.CreateBucket(ctx, metadata.Bucket{Name: "photos-" + metadata.NewID(), Owner: identity.Sub})
		if err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		obj, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: bucketID, ObjectName: "cat.png", Owner: identity.Sub, Version: "v1",
		})
		require.NoError(t, err)
		require.Equal(t, "v1", obj.Version)

		require.NoError(t, tx.CommitObjectVersion(ctx, bucketID, "cat.png", "v1", metadata.SystemMetadata{
			Size: 1024, ETag: "abc123", MimeType: "image/png",
		}, nil))

		got, err := tx.GetObject(ctx, bucketID, "cat.png", metadata.LockNone)
		require.NoError(t, err)
		require.Equal(t, int64(1024), got.Metadata.Size)
		return nil
	})
	require.NoError(t, err)
}

func TestFindOrCreateObjectRejectsDuplicateWithoutUpsert(t *testing.T) {
	store := newTestStore(t)
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
		_, err = tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: bucketID, ObjectName: "a.txt", Owner: identity.Sub, Version: "v1",
		})
		return err
	}))

	err := store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		_, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: bucketID, ObjectName: "a.txt", Owner: identity.Sub, Version: "v2", IsUpsert: false,
		})
		return err
	})
	require.Error(t, err)
}
