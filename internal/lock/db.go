// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package lock

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
)

// DBLock is the database-advisory lock variant (spec §4.4): the holder's
// transaction itself holds the Postgres advisory lock for its lifetime.
// On ResourceLocked, it publishes a release request and retries with a
// ~500ms backoff until DefaultAcquireTimeout elapses.
type DBLock struct {
	log     *zap.Logger
	pub     ReleasePublisher
	retryEvery time.Duration
	timeout    time.Duration
}

// NewDBLock constructs a DBLock.
func NewDBLock(log *zap.Logger, pub ReleasePublisher) *DBLock {
	return &DBLock{log: log, pub: pub, retryEvery: 500 * time.Millisecond, timeout: DefaultAcquireTimeout}
}

// AcquireInTx retries tx.MustLockObject until it succeeds, the timeout
// elapses, or ctx is cancelled, publishing a release request on each
// failed attempt (spec §4.4 "publish a release request ... and sleep
// ~500ms before retry").
func (l *DBLock) AcquireInTx(ctx context.Context, tx *metadata.Tx, tenant, bucket, key, version string) error {
	id := Id(tenant, bucket, key, version, "-$v-")

	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		err := tx.MustLockObject(ctx, bucket, key, version)
		if err == nil {
			return nil
		}
		if !isResourceLocked(err) {
			return err
		}
		if time.Now().After(deadline) {
			return errs2.New(errs2.KindLockTimeout, id, "timed out acquiring object lock")
		}
		if pubErr := l.pub.PublishReleaseRequest(ctx, id); pubErr != nil {
			l.log.Warn("failed to publish release request", zap.Error(pubErr), zap.String("lock_id", id))
		}
		select {
		case <-ctx.Done():
			return errs2.New(errs2.KindAborted, id, "lock acquisition cancelled")
		case <-ticker.C:
		}
	}
}

func isResourceLocked(err error) bool {
	r := errs2.Classify(err)
	return r.Kind == errs2.KindResourceLocked
}
