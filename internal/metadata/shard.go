// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"storj.io/vaultstorage/internal/errs2"
)

// ResourceKind is the type of resource a shard places (spec §3 Shard).
type ResourceKind string

// ResourceKind values.
const (
	ResourceVector       ResourceKind = "vector"
	ResourceIcebergTable ResourceKind = "iceberg-table"
)

// ShardStatus is the lifecycle status of a shard.
type ShardStatus string

// ShardStatus values.
const (
	ShardActive   ShardStatus = "active"
	ShardDraining ShardStatus = "draining"
	ShardDisabled ShardStatus = "disabled"
)

// Shard is a capacity-bounded placement target (spec §3).
type Shard struct {
	ID       string
	Kind     ResourceKind
	ShardKey string
	Capacity int
	NextSlot int
	Status   ShardStatus
}

// ShardSlot is a single allocation location on a shard (spec §3).
type ShardSlot struct {
	ShardID    string
	SlotNo     int
	ResourceID sql.NullString
	TenantID   sql.NullString
}

// ReservationStatus is the lifecycle status of a ShardReservation.
type ReservationStatus string

// ReservationStatus values.
const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// ShardReservation is a pending claim with an expiring lease (spec §3).
type ShardReservation struct {
	ID              string
	Kind            ResourceKind
	ResourceID      string
	TenantID        string
	ShardID         string
	SlotNo          int
	Status          ReservationStatus
	LeaseExpiresAt  time.Time
}

// shardClassLockKey returns the advisory-lock id serializing placement for
// a resource kind (spec §4.8 step 1).
func shardClassLockKey(kind ResourceKind) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("shard-class:"))
	_, _ = h.Write([]byte(kind))
	return int64(h.Sum64())
}

// LockShardClass takes the short advisory lock serializing placement for
// kind within tx's transaction lifetime.
func (tx *Tx) LockShardClass(ctx context.Context, kind ResourceKind) error {
	_, err := tx.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, shardClassLockKey(kind))
	return normalize(err, string(kind))
}

// FindShardWithLeastFreeCapacity finds an active shard of kind with the
// least free capacity, skipping rows locked by other transactions (spec
// §4.8 step 2; §9 design notes on the SKIP LOCKED caveat — callers must
// re-drive the outer retry loop on a nil result rather than fail).
func (tx *Tx) FindShardWithLeastFreeCapacity(ctx context.Context, kind ResourceKind) (Shard, bool, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT id, kind, shard_key, capacity, next_slot, status
		FROM shards
		WHERE kind = $1 AND status = 'active'
		  AND (capacity - next_slot) + (
			SELECT count(*) FROM shard_slots s
			WHERE s.shard_id = shards.id AND s.resource_id IS NULL
		  ) > 0
		ORDER BY (capacity - next_slot) + (
			SELECT count(*) FROM shard_slots s
			WHERE s.shard_id = shards.id AND s.resource_id IS NULL
		) ASC, shard_key ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, kind)

	var s Shard
	err := row.Scan(&s.ID, &s.Kind, &s.ShardKey, &s.Capacity, &s.NextSlot, &s.Status)
	if err == sql.ErrNoRows {
		return Shard{}, false, nil
	}
	if err != nil {
		return Shard{}, false, normalize(err, string(kind))
	}
	return s, true, nil
}

// HasActiveShards reports whether any active shard exists for kind, used
// to distinguish NoActiveShardError from NoCapacityError (spec §4.8).
func (tx *Tx) HasActiveShards(ctx context.Context, kind ResourceKind) (bool, error) {
	var n int
	err := tx.tx.QueryRowContext(ctx, `SELECT count(*) FROM shards WHERE kind = $1 AND status = 'active'`, kind).Scan(&n)
	if err != nil {
		return false, normalize(err, string(kind))
	}
	return n > 0, nil
}

// ClaimFreeSlot claims an existing free slot row on shardID: resource_id IS
// NULL and no active pending reservation on it, skipping locked rows (spec
// §4.8 step 3a).
func (tx *Tx) ClaimFreeSlot(ctx context.Context, shardID string) (ShardSlot, bool, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT shard_id, slot_no, resource_id, tenant_id
		FROM shard_slots s
		WHERE s.shard_id = $1 AND s.resource_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM shard_reservation r
			WHERE r.shard_id = s.shard_id AND r.slot_no = s.slot_no
			  AND r.status = 'pending' AND r.lease_expires_at > now()
		  )
		ORDER BY slot_no ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, shardID)

	var slot ShardSlot
	err := row.Scan(&slot.ShardID, &slot.SlotNo, &slot.ResourceID, &slot.TenantID)
	if err == sql.ErrNoRows {
		return ShardSlot{}, false, nil
	}
	if err != nil {
		return ShardSlot{}, false, normalize(err, shardID)
	}
	return slot, true, nil
}

// MintSlot atomically bumps next_slot (guarded by next_slot < capacity)
// and inserts the new (shard_id, slot_no) row (spec §4.8 step 3b).
func (tx *Tx) MintSlot(ctx context.Context, shardID string) (ShardSlot, bool, error) {
	var slotNo int
	err := tx.tx.QueryRowContext(ctx, `
		UPDATE shards SET next_slot = next_slot + 1
		WHERE id = $1 AND next_slot < capacity
		RETURNING next_slot - 1`, shardID).Scan(&slotNo)
	if err == sql.ErrNoRows {
		return ShardSlot{}, false, nil
	}
	if err != nil {
		return ShardSlot{}, false, normalize(err, shardID)
	}
	_, err = tx.tx.ExecContext(ctx, `INSERT INTO shard_slots (shard_id, slot_no) VALUES ($1, $2)`, shardID, slotNo)
	if err != nil {
		return ShardSlot{}, false, normalize(err, shardID)
	}
	return ShardSlot{ShardID: shardID, SlotNo: slotNo}, true, nil
}

// InsertReservation inserts a pending shard_reservation row (spec §4.8
// step 4).
func (tx *Tx) InsertReservation(ctx context.Context, r ShardReservation) (ShardReservation, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	r.Status = ReservationPending
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO shard_reservation (id, kind, resource_id, tenant_id, shard_id, slot_no, status, lease_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Kind, r.ResourceID, r.TenantID, r.ShardID, r.SlotNo, r.Status, r.LeaseExpiresAt)
	if err != nil {
		return ShardReservation{}, normalize(err, r.ID)
	}
	return r, nil
}

// ConfirmReservation implements the atomic confirm CTE (spec §4.8
// Confirm): marks the reservation confirmed and the slot's resource_id, but
// only if the reservation is still pending with a valid lease. Returns the
// number of rows affected (0 means no-op / already confirmed / expired).
func (tx *Tx) ConfirmReservation(ctx context.Context, reservationID, resourceID string) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		WITH target AS (
			SELECT shard_id, slot_no FROM shard_reservation
			WHERE id = $1 AND status = 'pending' AND lease_expires_at > now()
			FOR UPDATE
		), slot_update AS (
			UPDATE shard_slots SET resource_id = $2, tenant_id = (
				SELECT tenant_id FROM shard_reservation WHERE id = $1
			)
			WHERE (shard_id, slot_no) IN (SELECT shard_id, slot_no FROM target)
			RETURNING 1
		)
		UPDATE shard_reservation SET status = 'confirmed'
		WHERE id = $1 AND EXISTS (SELECT 1 FROM slot_update)`,
		reservationID, resourceID)
	if err != nil {
		return 0, normalize(err, reservationID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, normalize(err, reservationID)
	}
	return n, nil
}

// GetReservation fetches a reservation by id.
func (tx *Tx) GetReservation(ctx context.Context, id string) (ShardReservation, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT id, kind, resource_id, tenant_id, shard_id, slot_no, status, lease_expires_at
		FROM shard_reservation WHERE id = $1`, id)
	var r ShardReservation
	err := row.Scan(&r.ID, &r.Kind, &r.ResourceID, &r.TenantID, &r.ShardID, &r.SlotNo, &r.Status, &r.LeaseExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ShardReservation{}, errs2.New(errs2.KindInvalidParameter, id, "no such reservation")
		}
		return ShardReservation{}, normalize(err, id)
	}
	return r, nil
}

// CancelReservation marks a reservation cancelled; the slot stays reusable,
// next_slot is never widened (spec §4.8 Cancel, invariant I4).
func (tx *Tx) CancelReservation(ctx context.Context, id string) error {
	res, err := tx.tx.ExecContext(ctx, `UPDATE shard_reservation SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return normalize(err, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return normalize(err, id)
	}
	if n == 0 {
		return errs2.New(errs2.KindInvalidParameter, id, "reservation not pending")
	}
	return nil
}

// ExpireLeases marks all pending reservations whose lease has elapsed as
// expired, returning the count (spec §4.8 ExpireLeases).
func (tx *Tx) ExpireLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE shard_reservation SET status = 'expired'
		WHERE status = 'pending' AND lease_expires_at < $1`, now)
	if err != nil {
		return 0, normalize(err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, normalize(err, "")
	}
	return n, nil
}

// FreeByResource clears the slot's resource_id and deletes associated
// reservation rows for resourceID, making the slot reusable without
// widening next_slot (spec §4.8 FreeByResource).
func (tx *Tx) FreeByResource(ctx context.Context, kind ResourceKind, resourceID string) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE shard_slots SET resource_id = NULL, tenant_id = NULL
		WHERE resource_id = $1`, resourceID)
	if err != nil {
		return normalize(err, resourceID)
	}
	_, err = tx.tx.ExecContext(ctx, `DELETE FROM shard_reservation WHERE kind = $1 AND resource_id = $2`, kind, resourceID)
	return normalize(err, resourceID)
}

// FreeByLocation clears the slot identified by (shardID, slotNo) directly,
// used when the resource id is unknown at the call site.
func (tx *Tx) FreeByLocation(ctx context.Context, shardID string, slotNo int) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE shard_slots SET resource_id = NULL, tenant_id = NULL
		WHERE shard_id = $1 AND slot_no = $2`, shardID, slotNo)
	if err != nil {
		return normalize(err, shardID)
	}
	_, err = tx.tx.ExecContext(ctx, `DELETE FROM shard_reservation WHERE shard_id = $1 AND slot_no = $2`, shardID, slotNo)
	return normalize(err, shardID)
}
