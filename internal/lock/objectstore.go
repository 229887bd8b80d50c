// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package lock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/errs2"
)

// LockObjectStore is the minimal conditional-put KV contract the
// object-store lock variant needs against the blob backend's lock-object
// prefix (spec §6 Persisted state: "lock objects under configurable
// keyPrefix (default tus-locks/)").
type LockObjectStore interface {
	PutIfAbsent(ctx context.Context, key string, body []byte) (ok bool, err error)
	Get(ctx context.Context, key string) (body []byte, ok bool, err error)
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type lockBody struct {
	LockID    string    `json:"lockId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	RenewedAt time.Time `json:"renewedAt"`
}

// ObjectStoreLock is the object-store lock variant (spec §4.4): a
// conditional putIfAbsent of a lock object, renewed by a background timer,
// swept by cleanupZombieLocks, with the same REQUEST_LOCK_RELEASE release
// contract as DBLock.
type ObjectStoreLock struct {
	log       *zap.Logger
	store     LockObjectStore
	pub       ReleasePublisher
	keyPrefix string
	ttl       time.Duration
	renewEvery time.Duration
	timeout   time.Duration
}

// ObjectStoreLockOption configures an ObjectStoreLock.
type ObjectStoreLockOption func(*ObjectStoreLock)

// WithKeyPrefix overrides the default "tus-locks/" prefix.
func WithKeyPrefix(prefix string) ObjectStoreLockOption {
	return func(l *ObjectStoreLock) { l.keyPrefix = prefix }
}

// NewObjectStoreLock constructs an ObjectStoreLock with the spec defaults:
// 30s TTL, 10s renewal interval, 5s acquisition timeout.
func NewObjectStoreLock(log *zap.Logger, store LockObjectStore, pub ReleasePublisher, opts ...ObjectStoreLockOption) *ObjectStoreLock {
	l := &ObjectStoreLock{
		log: log, store: store, pub: pub,
		keyPrefix:  "tus-locks/",
		ttl:        30 * time.Second,
		renewEvery: 10 * time.Second,
		timeout:    DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements Locker.
func (l *ObjectStoreLock) Acquire(ctx context.Context, id string, cancelReq func()) (func(), error) {
	key := l.keyPrefix + id
	deadline := time.Now().Add(l.timeout)

	var unsubscribe func()
	if cancelReq != nil {
		var err error
		unsubscribe, err = l.pub.SubscribeReleaseRequests(ctx, id, cancelReq)
		if err != nil {
			l.log.Warn("failed to subscribe to release requests", zap.Error(err), zap.String("lock_id", id))
		}
	}

	for {
		now := time.Now()
		body, err := json.Marshal(lockBody{LockID: id, CreatedAt: now, ExpiresAt: now.Add(l.ttl), RenewedAt: now})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		ok, err := l.store.PutIfAbsent(ctx, key, body)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if ok {
			break
		}

		// conflict: check whether the existing lock has expired.
		existing, found, err := l.store.Get(ctx, key)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if found {
			var existingBody lockBody
			if json.Unmarshal(existing, &existingBody) == nil && time.Now().After(existingBody.ExpiresAt) {
				if delErr := l.store.Delete(ctx, key); delErr != nil {
					l.log.Warn("failed to delete expired lock", zap.Error(delErr), zap.String("lock_id", id))
				}
				continue
			}
		}

		if time.Now().After(deadline) {
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil, errs2.New(errs2.KindLockTimeout, id, "timed out acquiring object-store lock")
		}
		if pubErr := l.pub.PublishReleaseRequest(ctx, id); pubErr != nil {
			l.log.Warn("failed to publish release request", zap.Error(pubErr), zap.String("lock_id", id))
		}
		select {
		case <-ctx.Done():
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil, errs2.New(errs2.KindAborted, id, "lock acquisition cancelled")
		case <-time.After(jitter(250 * time.Millisecond)):
		}
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	var once sync.Once
	go l.renewLoop(renewCtx, key, id)

	release := func() {
		once.Do(func() {
			stopRenew()
			if unsubscribe != nil {
				unsubscribe()
			}
			if err := l.store.Delete(context.Background(), key); err != nil {
				l.log.Warn("failed to release lock", zap.Error(err), zap.String("lock_id", id))
			}
		})
	}
	return release, nil
}

func (l *ObjectStoreLock) renewLoop(ctx context.Context, key, id string) {
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			body, err := json.Marshal(lockBody{LockID: id, CreatedAt: now, ExpiresAt: now.Add(l.ttl), RenewedAt: now})
			if err != nil {
				l.log.Error("failed to marshal lock renewal body", zap.Error(err), zap.String("lock_id", id))
				continue
			}
			if err := l.store.Put(ctx, key, body); err != nil {
				// A failed renewal is logged at error level and renewal
				// stops; the holder is not notified, and the lock object
				// expires ttl after its last successful write.
				l.log.Error("lock renewal failed", zap.Error(err), zap.String("lock_id", id))
				return
			}
		}
	}
}

// CleanupZombieLocks deletes any lock object under keyPrefix whose
// expiresAt has passed (spec §4.4 "a sweeper pass").
func (l *ObjectStoreLock) CleanupZombieLocks(ctx context.Context) (swept int, err error) {
	keys, err := l.store.List(ctx, l.keyPrefix)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for _, key := range keys {
		body, found, err := l.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var b lockBody
		if json.Unmarshal(body, &b) != nil {
			continue
		}
		if time.Now().After(b.ExpiresAt) {
			if err := l.store.Delete(ctx, key); err == nil {
				swept++
			}
		}
	}
	return swept, nil
}

func jitter(base time.Duration) time.Duration {
	return base + time.Duration(time.Now().UnixNano()%int64(base/2))
}
