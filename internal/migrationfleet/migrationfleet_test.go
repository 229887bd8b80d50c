// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package migrationfleet_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/migrationfleet"
)

// newTestRunner opens TEST_DATABASE_URL for the control-plane registry and
// TEST_REDIS_ADDR for the job queue, skipping when either is unset. The
// fleet runner has no meaningful fake for the advisory lock or BRPOP
// semantics it depends on, so these are integration tests like the ones in
// internal/metadata and internal/shard.
func newTestRunner(t *testing.T, migrations []migrationfleet.Migration) (*migrationfleet.Runner, *metadata.TenantRegistry, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres-backed test")
	}
	redisAddr := os.Getenv("TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis-backed test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("could not reach TEST_DATABASE_URL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("could not reach TEST_REDIS_ADDR: %v", err)
	}

	registry := metadata.NewTenantRegistry(db)
	dial := func(tenantID string) (*sql.DB, error) { return db, nil }
	runner := migrationfleet.New(zap.NewNop(), registry, dial, rdb, migrationfleet.Config{
		Migrations: migrations,
		Workers:    1,
	})
	return runner, registry, db
}

func registerTestTenant(t *testing.T, registry *metadata.TenantRegistry) metadata.Tenant {
	t.Helper()
	tenant, err := registry.RegisterTenant(context.Background(), metadata.Tenant{
		ID:                   "tenant-" + metadata.NewID(),
		EncryptedDatabaseURL: "unused",
	})
	require.NoError(t, err)
	return tenant
}

func TestEnqueueFleetCountsRegisteredTenants(t *testing.T) {
	runner, registry, _ := newTestRunner(t, nil)
	registerTestTenant(t, registry)
	registerTestTenant(t, registry)

	n, err := runner.EnqueueFleet(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 2)
}

func TestRunOneAppliesMigrationsInOrder(t *testing.T) {
	var ran []string
	migrations := []migrationfleet.Migration{
		{Name: "0001", Run: func(ctx context.Context, tx *sql.Tx) error { ran = append(ran, "0001"); return nil }},
		{Name: "0002", Run: func(ctx context.Context, tx *sql.Tx) error { ran = append(ran, "0002"); return nil }},
	}
	runner, registry, _ := newTestRunner(t, migrations)
	tenant := registerTestTenant(t, registry)

	require.NoError(t, runner.RunOne(context.Background(), tenant.ID))
	require.Equal(t, []string{"0001", "0002"}, ran)

	got, err := registry.GetTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Equal(t, metadata.MigrationCompleted, got.MigrationsStatus)
	require.Equal(t, "0002", got.MigrationsVersion)

	// Running again with the same migration set must be a no-op: every
	// migration is already at or before the tenant's recorded version.
	ran = nil
	require.NoError(t, runner.RunOne(context.Background(), tenant.ID))
	require.Empty(t, ran)
}

func TestRunOneRecordsFailure(t *testing.T) {
	boom := migrationfleet.Migration{Name: "0001", Run: func(ctx context.Context, tx *sql.Tx) error {
		return sql.ErrConnDone
	}}
	runner, registry, _ := newTestRunner(t, []migrationfleet.Migration{boom})
	tenant := registerTestTenant(t, registry)

	require.Error(t, runner.RunOne(context.Background(), tenant.ID))

	got, err := registry.GetTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Equal(t, metadata.MigrationFailed, got.MigrationsStatus)
}

func TestProgressReportsQueueDepth(t *testing.T) {
	runner, registry, _ := newTestRunner(t, nil)
	registerTestTenant(t, registry)

	_, err := runner.EnqueueFleet(context.Background())
	require.NoError(t, err)

	queued, pending, err := runner.Progress(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, queued, int64(1))
	require.GreaterOrEqual(t, pending, 1)
}
