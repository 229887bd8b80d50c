// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // postgres driver

	"go.uber.org/zap"
)

// Identity is the caller's identity attached to a transaction so that
// Postgres row-level security policies can apply (spec §4.2).
type Identity struct {
	Sub  string
	Role string
}

// Store is a transactional interface parameterized by tenant. Every
// mutating caller goes through WithTransaction; the store routes to the
// tenant's connection pool and attaches the caller's identity via a
// session-local setting consumed by the catalog's row-level-security
// policies (spec §4.2).
type Store struct {
	log *zap.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB

	dial func(tenantID string) (*sql.DB, error)
}

// NewStore constructs a Store. dial opens (or returns a cached) *sql.DB for
// a tenant, given its decrypted connection string; the caller is
// responsible for the decryption (internal/crypt).
func NewStore(log *zap.Logger, dial func(tenantID string) (*sql.DB, error)) *Store {
	return &Store{log: log, pools: map[string]*sql.DB{}, dial: dial}
}

func (s *Store) pool(tenantID string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.pools[tenantID]; ok {
		return db, nil
	}
	db, err := s.dial(tenantID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	s.pools[tenantID] = db
	return db, nil
}

// DropPool closes and forgets a tenant's pool, used on tenant-delete.
func (s *Store) DropPool(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.pools[tenantID]
	if !ok {
		return nil
	}
	delete(s.pools, tenantID)
	return db.Close()
}

// Tx is the handle a transaction callback operates against.
type Tx struct {
	tx       *sql.Tx
	identity Identity
	super    bool
}

// WithTransaction opens a tenant-scoped transaction, attaches identity for
// row-level-security enforcement, and runs fn. The transaction commits if
// fn returns nil, else rolls back.
func (s *Store) WithTransaction(ctx context.Context, tenantID string, identity Identity, fn func(ctx context.Context, tx *Tx) error) error {
	return s.withTransaction(ctx, tenantID, identity, false, fn)
}

// AsSuperUser runs fn in a transaction that bypasses row-level-security
// policies. Used only by internal paths: admin APIs, the orphan scanner,
// and migrations (spec §4.2).
func (s *Store) AsSuperUser(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *Tx) error) error {
	return s.withTransaction(ctx, tenantID, Identity{}, true, fn)
}

func (s *Store) withTransaction(ctx context.Context, tenantID string, identity Identity, super bool, fn func(ctx context.Context, tx *Tx) error) error {
	db, err := s.pool(tenantID)
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return normalize(err, tenantID)
	}

	if !super {
		if _, err := sqlTx.ExecContext(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true)`, identity.Sub); err != nil {
			_ = sqlTx.Rollback()
			return normalize(err, tenantID)
		}
		if _, err := sqlTx.ExecContext(ctx, `SELECT set_config('request.jwt.claim.role', $1, true)`, identity.Role); err != nil {
			_ = sqlTx.Rollback()
			return normalize(err, tenantID)
		}
	}

	tx := &Tx{tx: sqlTx, identity: identity, super: super}
	if err := fn(ctx, tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr), zap.String("tenant", tenantID))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return normalize(err, tenantID)
	}
	return nil
}

// Healthcheck verifies the tenant's pool is reachable.
func (s *Store) Healthcheck(ctx context.Context, tenantID string) error {
	db, err := s.pool(tenantID)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return normalize(err, tenantID)
	}
	return nil
}

func placeholders(n, start int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}
