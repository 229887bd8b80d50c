// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package lock implements C4, the cluster-wide distributed mutex keyed by
// upload id (spec §4.4). There are two variants: a database-advisory
// variant (db.go, DBLock.AcquireInTx) riding on the metadata store's
// transaction, and an object-store variant (objectstore.go) implementing
// Locker with a conditional put of a lock object. Both publish on the
// REQUEST_LOCK_RELEASE pubsub channel while waiting; only the object-store
// variant subscribes, so that a busy holder can yield early to a waiting
// peer.
package lock

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the class of all lock package errors.
var Error = errs.Class("lock")

// DefaultAcquireTimeout is the bound on lock acquisition (spec §5
// Timeouts).
const DefaultAcquireTimeout = 5 * time.Second

// ReleasePublisher publishes a hint that the current holder of id should
// yield soon (spec §4.4 Release contract). Both lock variants accept
// one; internal/pubsub's redis-backed bus is the production
// implementation.
type ReleasePublisher interface {
	PublishReleaseRequest(ctx context.Context, id string) error
	SubscribeReleaseRequests(ctx context.Context, id string, onRequest func()) (unsubscribe func(), err error)
}

// Locker is the acquire/release contract ObjectStoreLock implements;
// DBLock instead locks inside a caller's transaction via AcquireInTx.
type Locker interface {
	// Acquire blocks (bounded by DefaultAcquireTimeout or ctx) until the
	// lock for id is held or acquisition fails. cancelReq, if non-nil, is
	// invoked when a peer requests release — callers should finish
	// quickly and call the returned release func.
	Acquire(ctx context.Context, id string, cancelReq func()) (release func(), err error)
}

// Id builds the canonical lock id for an object (spec §4.4: "keyed by
// upload id (tenant/bucket/name[SEP]version)").
func Id(tenant, bucket, name, version, sep string) string {
	return tenant + "/" + bucket + "/" + name + sep + version
}
