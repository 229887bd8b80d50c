// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package migrationfleet implements C9, the queue-driven per-tenant
// migration runner (spec §4.9): a fleet scheduler enqueues one job per
// tenant on a persistent Redis-backed queue, a bounded worker pool leases
// and runs them, and progress/failure are queryable while the fleet
// drains.
package migrationfleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/metadata"
)

// Error is the class of all migrationfleet package errors.
var Error = errs.Class("migrationfleet")

// queueKey is the Redis list backing the persistent job queue (spec §4.9
// "persistent job queue").
const queueKey = "vaultstorage:migration-fleet:jobs"

// Migration is one ordered schema step a per-tenant migrator applies.
type Migration struct {
	Name string
	Run  func(ctx context.Context, tx *sql.Tx) error
}

// job is the wire shape of one queued RunMigrationsOnTenants task.
type job struct {
	TenantID string `json:"tenantId"`
}

// Runner is C9, wired against the tenant registry, the control-plane
// database, and a Redis job queue.
type Runner struct {
	log        *zap.Logger
	registry   *metadata.TenantRegistry
	dial       func(tenantID string) (*sql.DB, error)
	redis      *redis.Client
	migrations []Migration
	workers    int
}

// Config configures a Runner.
type Config struct {
	Migrations []Migration
	Workers    int
}

// New constructs a Runner. dial opens a tenant's own database connection
// (decrypted connection string resolution happens above this package, as
// in internal/metadata.Store).
func New(log *zap.Logger, registry *metadata.TenantRegistry, dial func(tenantID string) (*sql.DB, error), redisClient *redis.Client, cfg Config) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Runner{log: log, registry: registry, dial: dial, redis: redisClient, migrations: cfg.Migrations, workers: workers}
}

// EnqueueFleet enqueues one RunMigrationsOnTenants job per registered
// tenant (spec §4.9 "Endpoint migrate/fleet enqueues one ...job per
// tenant").
func (r *Runner) EnqueueFleet(ctx context.Context) (int, error) {
	tenants, err := r.registry.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tenants {
		payload, err := json.Marshal(job{TenantID: t.ID})
		if err != nil {
			return 0, Error.Wrap(err)
		}
		if err := r.redis.LPush(ctx, queueKey, payload).Err(); err != nil {
			return 0, Error.Wrap(err)
		}
	}
	return len(tenants), nil
}

// Progress returns the remaining queue depth plus the count of tenants not
// yet completed (spec §4.9 "/progress returns the remaining job count").
func (r *Runner) Progress(ctx context.Context) (queued int64, pending int, err error) {
	queued, err = r.redis.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	pending, err = r.registry.CountPendingTenants(ctx)
	return queued, pending, err
}

// Failed pages tenants currently in the failed state (spec §4.9 "/failed
// returns a paged list keyed by cursor_id").
func (r *Runner) Failed(ctx context.Context, afterCursor string, limit int) ([]metadata.Tenant, error) {
	return r.registry.ListFailedTenants(ctx, afterCursor, limit)
}

// ResetFleet marks tenantID's migrations not-yet-run up to upToVersion,
// optionally forcing everything through forceCompletedPrefix to
// completed first (spec §4.9 Reset).
func (r *Runner) ResetFleet(ctx context.Context, tenantID, upToVersion, forceCompletedPrefix string) error {
	return r.registry.ResetMigration(ctx, tenantID, upToVersion, forceCompletedPrefix)
}

// Start runs Workers worker goroutines, each popping jobs from the queue
// with BRPOP until ctx is cancelled. A popped job is removed from Redis
// at once and is neither acknowledged nor re-queued, so a job whose
// worker crashes mid-run is lost.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		go r.workerLoop(ctx)
	}
}

func (r *Runner) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := r.redis.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("migration fleet: queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var j job
		if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
			r.log.Error("migration fleet: malformed job payload", zap.Error(err))
			continue
		}
		if err := r.RunOne(ctx, j.TenantID); err != nil {
			r.log.Warn("migration fleet: tenant migration failed", zap.Error(err), zap.String("tenant", j.TenantID))
		}
	}
}

// RunOne runs every not-yet-applied migration against tenantID's database
// in order, recording migrations_version/migrations_status as it goes
// (spec §4.9 "Per-tenant migrator"). The whole run is wrapped in the
// control-plane advisory lock so two workers never run the same tenant's
// migrations concurrently.
func (r *Runner) RunOne(ctx context.Context, tenantID string) error {
	adminTx, err := r.registry.BeginAdmin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = adminTx.Rollback() }()

	if err := r.registry.LockTenantMigration(ctx, adminTx, tenantID); err != nil {
		return err
	}

	tenant, err := r.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	db, err := r.dial(tenantID)
	if err != nil {
		_ = r.registry.UpdateMigrationStatus(ctx, tenantID, tenant.MigrationsVersion, metadata.MigrationFailed)
		return Error.Wrap(err)
	}

	applied := false
	for _, m := range r.migrations {
		if !after(tenant.MigrationsVersion, m.Name) {
			continue
		}
		if err := r.applyOne(ctx, db, m); err != nil {
			_ = r.registry.UpdateMigrationStatus(ctx, tenantID, tenant.MigrationsVersion, metadata.MigrationFailed)
			return Error.Wrap(err)
		}
		tenant.MigrationsVersion = m.Name
		applied = true
	}

	if err := r.registry.UpdateMigrationStatus(ctx, tenantID, tenant.MigrationsVersion, metadata.MigrationCompleted); err != nil {
		return err
	}
	if applied {
		r.log.Info("migration fleet: tenant migrated", zap.String("tenant", tenantID), zap.String("version", tenant.MigrationsVersion))
	}
	return adminTx.Commit()
}

func (r *Runner) applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := m.Run(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// after reports whether candidate comes strictly after current in the
// migration list's declared order, given their names. Migration names
// are expected to sort lexically by intent (e.g. zero-padded sequence
// prefixes), matching how the migration list itself is ordered.
func after(current, candidate string) bool {
	return candidate > current
}
