// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package pubsub implements the in-process REQUEST_LOCK_RELEASE channel
// (spec §6 Pubsub channels) over Redis, the transport the rest of the
// component design treats as an external collaborator (spec §1
// Out-of-scope: "the pubsub transport choice"). Delivery is at-least-once
// to all subscribers; handlers must be idempotent (spec §5 Shared resource
// policy).
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the class of all pubsub package errors.
var Error = errs.Class("pubsub")

// Channel is the REQUEST_LOCK_RELEASE channel name (spec §6).
const Channel = "REQUEST_LOCK_RELEASE"

type releaseMessage struct {
	ID string `json:"id"`
}

// Bus publishes and subscribes to lock release requests over Redis pubsub.
type Bus struct {
	log    *zap.Logger
	client *redis.Client
}

// NewBus constructs a Bus over an already-configured redis.Client.
func NewBus(log *zap.Logger, client *redis.Client) *Bus {
	return &Bus{log: log, client: client}
}

// PublishReleaseRequest publishes a release hint for lock id (spec §4.4
// "publish a release request on a pub/sub channel").
func (b *Bus) PublishReleaseRequest(ctx context.Context, id string) error {
	payload, err := json.Marshal(releaseMessage{ID: id})
	if err != nil {
		return Error.Wrap(err)
	}
	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// SubscribeReleaseRequests invokes onRequest whenever a release request for
// id arrives, until the returned unsubscribe func is called or ctx ends.
// Release requests are hints, not commands (spec §4.4 invariant c):
// onRequest should let the current holder decide when to yield.
func (b *Bus) SubscribeReleaseRequests(ctx context.Context, id string, onRequest func()) (func(), error) {
	sub := b.client.Subscribe(ctx, Channel)
	ch := sub.Channel()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rm releaseMessage
				if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
					b.log.Warn("malformed release request payload", zap.Error(err))
					continue
				}
				if rm.ID == id {
					onRequest()
				}
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		if err := sub.Close(); err != nil {
			b.log.Warn("failed to close release-request subscription", zap.Error(err), zap.String("lock_id", id))
		}
	}
	return unsubscribe, nil
}
