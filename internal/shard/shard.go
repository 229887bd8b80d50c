// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package shard implements C8, the lease-based capacity-bounded slot
// allocator (spec §4.8): given a resource kind, it places a reservation on
// the shard with the least free capacity, minting new slots only when no
// free slot already exists, and lets callers confirm, cancel, or expire
// that reservation.
package shard

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/metadata"
)

// Error is the class of all shard package errors.
var Error = errs.Class("shard")

// NoActiveShardError indicates kind has no active shard at all, distinct
// from NoCapacityError where active shards exist but are all full (spec
// §4.8).
type NoActiveShardError struct {
	Kind metadata.ResourceKind
}

func (e *NoActiveShardError) Error() string {
	return "no active shard for resource kind " + string(e.Kind)
}

// NoCapacityError indicates every active shard of kind is full.
type NoCapacityError struct {
	Kind metadata.ResourceKind
}

func (e *NoCapacityError) Error() string {
	return "no free capacity for resource kind " + string(e.Kind)
}

// ExpiredReservationError indicates reservationID's lease has expired (or
// the id is unknown), distinct from a repeated Confirm of an
// already-confirmed reservation, which is a no-op (spec §4.8 Confirm).
type ExpiredReservationError struct {
	ReservationID string
}

func (e *ExpiredReservationError) Error() string {
	return "reservation " + e.ReservationID + " has expired or does not exist"
}

// Allocator is C8, wired against the metadata store.
type Allocator struct {
	log          *zap.Logger
	store        *metadata.Store
	leaseTTL     time.Duration
	maxRetries   int
}

// Config configures an Allocator.
type Config struct {
	LeaseTTL   time.Duration
	MaxRetries int
}

// New constructs an Allocator with the spec defaults: a 5 minute lease and
// up to 10 SKIP LOCKED retries before giving up (spec §4.8 "callers must
// re-drive the outer retry loop on a nil result").
func New(log *zap.Logger, store *metadata.Store, cfg Config) *Allocator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Allocator{log: log, store: store, leaseTTL: cfg.LeaseTTL, maxRetries: cfg.MaxRetries}
}

// ReserveOptions parameterizes Reserve.
type ReserveOptions struct {
	TenantID   string
	Kind       metadata.ResourceKind
	ResourceID string
}

// Reserve places a pending reservation for ResourceID on the active shard
// of Kind with the least free capacity (spec §4.8 steps 1-4):
//  1. take the shard-class advisory lock, serializing placement;
//  2. find the shard with least free capacity;
//  3. claim a free slot, or mint a new one if none is free;
//  4. insert a pending reservation with a leaseTTL-bounded lease.
//
// Step 2/3's FOR UPDATE SKIP LOCKED queries can race another transaction
// out from under a nil result; Reserve retries up to maxRetries times
// before surfacing NoCapacityError, rather than treating a single empty
// read as exhaustion.
func (a *Allocator) Reserve(ctx context.Context, opts ReserveOptions) (metadata.ShardReservation, error) {
	var reservation metadata.ShardReservation

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		var done bool
		err := a.store.WithTransaction(ctx, opts.TenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
			if err := tx.LockShardClass(ctx, opts.Kind); err != nil {
				return err
			}

			active, err := tx.HasActiveShards(ctx, opts.Kind)
			if err != nil {
				return err
			}
			if !active {
				return &NoActiveShardError{Kind: opts.Kind}
			}

			sh, found, err := tx.FindShardWithLeastFreeCapacity(ctx, opts.Kind)
			if err != nil {
				return err
			}
			if !found {
				return nil // ask the caller to retry: SKIP LOCKED may have hidden capacity.
			}

			slot, found, err := tx.ClaimFreeSlot(ctx, sh.ID)
			if err != nil {
				return err
			}
			if !found {
				slot, found, err = tx.MintSlot(ctx, sh.ID)
				if err != nil {
					return err
				}
				if !found {
					return nil // shard filled between FindShard and MintSlot; retry.
				}
			}

			reservation, err = tx.InsertReservation(ctx, metadata.ShardReservation{
				Kind: opts.Kind, ResourceID: opts.ResourceID, TenantID: opts.TenantID,
				ShardID: slot.ShardID, SlotNo: slot.SlotNo, LeaseExpiresAt: time.Now().Add(a.leaseTTL),
			})
			if err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			return metadata.ShardReservation{}, err
		}
		if done {
			return reservation, nil
		}
	}
	return metadata.ShardReservation{}, &NoCapacityError{Kind: opts.Kind}
}

// Confirm marks reservationID confirmed and stamps the slot with
// resourceID, the atomic handoff from "I have a lease" to "I own this
// slot" (spec §4.8 Confirm). A zero rows-affected result is ambiguous
// between "already confirmed" and "lease expired / unknown id"; Confirm
// disambiguates with a follow-up read so a repeated confirm of an
// already-confirmed reservation is a no-op returning nil, per spec §4.8
// "Idempotent: a repeated confirm for an already-confirmed reservation is
// a no-op returning 0." Only the genuinely expired/unknown case surfaces
// ExpiredReservationError.
func (a *Allocator) Confirm(ctx context.Context, tenantID, reservationID, resourceID string) error {
	return a.store.WithTransaction(ctx, tenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
		n, err := tx.ConfirmReservation(ctx, reservationID, resourceID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return &ExpiredReservationError{ReservationID: reservationID}
		}
		if r.Status == metadata.ReservationConfirmed && r.ResourceID == resourceID {
			return nil
		}
		return &ExpiredReservationError{ReservationID: reservationID}
	})
}

// Cancel releases a pending reservation without widening the shard's
// next_slot, so the slot is immediately reusable (spec §4.8 Cancel,
// invariant I4).
func (a *Allocator) Cancel(ctx context.Context, tenantID, reservationID string) error {
	return a.store.WithTransaction(ctx, tenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
		return tx.CancelReservation(ctx, reservationID)
	})
}

// FreeByResource releases a confirmed slot given its resource id,
// clearing the slot and removing its reservation rows (spec §4.8
// FreeByResource), used when a resource is deleted well after
// confirmation.
func (a *Allocator) FreeByResource(ctx context.Context, tenantID string, kind metadata.ResourceKind, resourceID string) error {
	return a.store.WithTransaction(ctx, tenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
		return tx.FreeByResource(ctx, kind, resourceID)
	})
}

// FreeByLocation releases a slot directly by (shardID, slotNo), used by
// the migration fleet runner when moving a resource off a shard without
// necessarily knowing its reservation id.
func (a *Allocator) FreeByLocation(ctx context.Context, tenantID, shardID string, slotNo int) error {
	return a.store.WithTransaction(ctx, tenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
		return tx.FreeByLocation(ctx, shardID, slotNo)
	})
}

// SweepExpiredLeases marks every pending reservation whose lease has
// elapsed as expired (spec §4.8 ExpireLeases), run periodically by a
// background worker so abandoned reservations don't starve capacity.
func (a *Allocator) SweepExpiredLeases(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := a.store.AsSuperUser(ctx, tenantID, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		n, err = tx.ExpireLeases(ctx, time.Now())
		return err
	})
	return n, err
}

// Get fetches a reservation by id.
func (a *Allocator) Get(ctx context.Context, tenantID, reservationID string) (metadata.ShardReservation, error) {
	var r metadata.ShardReservation
	err := a.store.WithTransaction(ctx, tenantID, metadata.Identity{}, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, reservationID)
		return err
	})
	return r, err
}
