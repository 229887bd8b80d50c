// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package shard_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/shard"
)

// newTestAllocator opens TEST_DATABASE_URL and seeds a single-capacity
// shard for a fresh resource kind, skipping the test when no database is
// configured — these exercise the real SKIP LOCKED/advisory-lock SQL in
// internal/metadata/shard.go and have no meaningful fake substitute.
func newTestAllocator(t *testing.T) (*shard.Allocator, *metadata.Store, metadata.ResourceKind) {
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
	kind := metadata.ResourceKind("test-kind-" + metadata.NewID())

	_, err = db.Exec(`INSERT INTO shards (id, kind, shard_key, capacity, next_slot, status) VALUES ($1, $2, 'a', 1, 0, 'active')`,
		metadata.NewID(), kind)
	require.NoError(t, err)

	return shard.New(zap.NewNop(), store, shard.Config{}), store, kind
}

func TestReserveConfirmCancel(t *testing.T) {
	allocator, _, kind := newTestAllocator(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()

	r, err := allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-1"})
	require.NoError(t, err)
	require.Equal(t, metadata.ReservationPending, r.Status)

	require.NoError(t, allocator.Confirm(ctx, tenantID, r.ID, "res-1"))

	got, err := allocator.Get(ctx, tenantID, r.ID)
	require.NoError(t, err)
	require.Equal(t, metadata.ReservationConfirmed, got.Status)
}

func TestConfirmIsIdempotent(t *testing.T) {
	allocator, _, kind := newTestAllocator(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()

	r, err := allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-1"})
	require.NoError(t, err)
	require.NoError(t, allocator.Confirm(ctx, tenantID, r.ID, "res-1"))

	// spec §4.8: a repeated confirm of an already-confirmed reservation is
	// a no-op, not an error.
	require.NoError(t, allocator.Confirm(ctx, tenantID, r.ID, "res-1"))

	got, err := allocator.Get(ctx, tenantID, r.ID)
	require.NoError(t, err)
	require.Equal(t, metadata.ReservationConfirmed, got.Status)
}

func TestConfirmRejectsUnknownReservation(t *testing.T) {
	allocator, _, _ := newTestAllocator(t)
	ctx := context.Background()

	err := allocator.Confirm(ctx, "tenant-"+metadata.NewID(), metadata.NewID(), "res-1")
	require.Error(t, err)
	var expired *shard.ExpiredReservationError
	require.ErrorAs(t, err, &expired)
}

func TestReserveExhaustsCapacity(t *testing.T) {
	allocator, _, kind := newTestAllocator(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()

	_, err := allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-1"})
	require.NoError(t, err)

	_, err = allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-2"})
	require.Error(t, err)
	var noCapacity *shard.NoCapacityError
	require.ErrorAs(t, err, &noCapacity)
}

func TestReserveUnknownKind(t *testing.T) {
	allocator, _, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := allocator.Reserve(ctx, shard.ReserveOptions{
		TenantID: "tenant-" + metadata.NewID(), Kind: metadata.ResourceKind("no-such-kind"), ResourceID: "res-1",
	})
	require.Error(t, err)
	var noActive *shard.NoActiveShardError
	require.ErrorAs(t, err, &noActive)
}

func TestCancelFreesSlotImmediately(t *testing.T) {
	allocator, _, kind := newTestAllocator(t)
	ctx := context.Background()
	tenantID := "tenant-" + metadata.NewID()

	r, err := allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-1"})
	require.NoError(t, err)
	require.NoError(t, allocator.Cancel(ctx, tenantID, r.ID))

	// spec §4.8 invariant I4: cancelling does not widen next_slot, so the
	// freed slot is immediately reusable by the next Reserve.
	r2, err := allocator.Reserve(ctx, shard.ReserveOptions{TenantID: tenantID, Kind: kind, ResourceID: "res-2"})
	require.NoError(t, err)
	require.Equal(t, r.ShardID, r2.ShardID)
	require.Equal(t, r.SlotNo, r2.SlotNo)
}
