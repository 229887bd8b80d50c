// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package deletequeue implements the ObjectAdminDeleteAllBefore background
// job referenced by objectlifecycle (spec §4.3 "the caller is responsible
// for enqueuing ObjectAdminDeleteAllBefore afterwards"): a Redis-backed
// job queue, mirroring migrationfleet's persistent-queue idiom, that sweeps
// superseded backend versions out of a bucket once they're no longer
// reachable from any live Object row.
package deletequeue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
)

// Error is the class of all deletequeue package errors.
var Error = errs.Class("deletequeue")

const queueKey = "vaultstorage:object-delete:jobs"

type job struct {
	BucketID string    `json:"bucketId"`
	Before   time.Time `json:"before"`
}

// Queue is the Redis-backed job queue satisfying
// objectlifecycle.DeleteEnqueuer.
type Queue struct {
	log          *zap.Logger
	redis        *redis.Client
	backend      blob.Backend
	globalBucket string
	workers      int
}

// Config configures a Queue.
type Config struct {
	GlobalBucket string
	Workers      int
}

// New constructs a Queue. backend entries live under a single physical
// bucket keyed by a bucketID/name prefix, matching objectlifecycle.Manager
// and tus.Engine's GlobalBucket convention.
func New(log *zap.Logger, redisClient *redis.Client, backend blob.Backend, cfg Config) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	return &Queue{log: log, redis: redisClient, backend: backend, globalBucket: cfg.GlobalBucket, workers: workers}
}

// EnqueueObjectDeleteAllBefore implements objectlifecycle.DeleteEnqueuer.
func (q *Queue) EnqueueObjectDeleteAllBefore(ctx context.Context, bucketID string, before time.Time) error {
	return q.enqueue(ctx, job{BucketID: bucketID, Before: before})
}

func (q *Queue) enqueue(ctx context.Context, j job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := q.redis.LPush(ctx, queueKey, payload).Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Start runs Workers worker goroutines draining the queue until ctx is
// cancelled, following migrationfleet.Runner.Start's shape.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		go q.workerLoop(ctx)
	}
}

func (q *Queue) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := q.redis.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("delete queue: queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var j job
		if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
			q.log.Error("delete queue: malformed job payload", zap.Error(err))
			continue
		}
		if err := q.runOne(ctx, j); err != nil {
			q.log.Warn("delete queue: sweep failed", zap.Error(err), zap.String("bucket_id", j.BucketID))
		}
	}
}

// runOne removes every backend entry under the bucket older than
// j.Before. It purposefully does not consult the metadata store: by the
// time a job reaches here, the superseded version is already unreachable
// from any live Object row, so age alone is the deletion criterion.
func (q *Queue) runOne(ctx context.Context, j job) error {
	nextToken := ""
	for {
		res, err := q.backend.List(ctx, q.globalBucket, blob.ListOptions{
			Prefix: j.BucketID + "/", NextToken: nextToken, BeforeDate: j.Before,
		})
		if err != nil {
			return Error.Wrap(err)
		}
		var stale []string
		for _, e := range res.Entries {
			if e.LastModified.Before(j.Before) {
				stale = append(stale, e.Key)
			}
		}
		if len(stale) > 0 {
			if err := q.backend.RemoveMany(ctx, q.globalBucket, stale); err != nil {
				return Error.Wrap(err)
			}
		}
		if res.NextToken == "" {
			return nil
		}
		nextToken = res.NextToken
	}
}
