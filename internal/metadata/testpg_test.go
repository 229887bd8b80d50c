// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata_test

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/metadata"
)

// openTestDB opens the database at TEST_DATABASE_URL, skipping the test
// when it isn't set. The schema in migrations/0002_tenant_catalog.sql must
// already be applied; these are integration tests against a real Postgres,
// grounded on the teacher's pattern of gating DB-backed tests behind an
// environment variable rather than spinning up a server per test run.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres-backed test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("could not reach TEST_DATABASE_URL: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *metadata.Store {
	t.Helper()
	db := openTestDB(t)
	return metadata.NewStore(zap.NewNop(), func(tenantID string) (*sql.DB, error) { return db, nil })
}
