// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/migrationfleet"
	"storj.io/vaultstorage/internal/orphan"
	"storj.io/vaultstorage/internal/shard"
)

// AdminServer exposes the background-job control surface: fleet
// migrations (C9), orphan reconciliation (C7), and shard placement (C8)
// (spec §4.7, §4.8, §4.9).
type AdminServer struct {
	store   *metadata.Store
	fleet   *migrationfleet.Runner
	scanner *orphan.Scanner
	shards  *shard.Allocator
}

// NewAdminServer constructs an AdminServer.
func NewAdminServer(store *metadata.Store, fleet *migrationfleet.Runner, scanner *orphan.Scanner, shards *shard.Allocator) *AdminServer {
	return &AdminServer{store: store, fleet: fleet, scanner: scanner, shards: shards}
}

// EnqueueFleetMigration handles POST /admin/migrate/fleet.
func (a *AdminServer) EnqueueFleetMigration(w http.ResponseWriter, r *http.Request) {
	n, err := a.fleet.EnqueueFleet(r.Context())
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

// FleetProgress handles GET /admin/migrate/progress.
func (a *AdminServer) FleetProgress(w http.ResponseWriter, r *http.Request) {
	queued, pending, err := a.fleet.Progress(r.Context())
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "pending": pending})
}

// FleetFailed handles GET /admin/migrate/failed?cursor=&limit=.
func (a *AdminServer) FleetFailed(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	tenants, err := a.fleet.Failed(r.Context(), cursor, limit)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

type resetFleetRequest struct {
	TenantID             string `json:"tenantId"`
	UpToVersion          string `json:"upToVersion"`
	ForceCompletedPrefix string `json:"forceCompletedPrefix"`
}

// ResetFleet handles POST /admin/migrate/reset.
func (a *AdminServer) ResetFleet(w http.ResponseWriter, r *http.Request) {
	var req resetFleetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	if err := a.fleet.ResetFleet(r.Context(), req.TenantID, req.UpToVersion, req.ForceCompletedPrefix); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScanOrphans handles GET /admin/orphans/:bucket, streaming newline-
// delimited JSON findings as the scan progresses (spec §4.7 "paged
// NDJSON-style lazy emission").
func (a *AdminServer) ScanOrphans(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	bucketName := mux.Vars(r)["bucket"]

	var bucket metadata.Bucket
	err := a.store.AsSuperUser(r.Context(), caller.TenantID, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		bucket, err = tx.GetBucket(ctx, bucketName)
		return err
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriter(w)
	defer func() { _ = bw.Flush() }()

	enc := json.NewEncoder(bw)
	for ev := range a.scanner.ListOrphaned(r.Context(), caller.TenantID, bucket.ID, bucket.Name) {
		_ = enc.Encode(ev)
		_ = bw.Flush()
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type deleteOrphansRequest struct {
	BucketName string          `json:"bucketName"`
	Findings   []orphan.Finding `json:"findings"`
}

// DeleteOrphans handles POST /admin/orphans/delete.
func (a *AdminServer) DeleteOrphans(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req deleteOrphansRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	deleted, err := a.scanner.DeleteOrphans(r.Context(), caller.TenantID, req.BucketName, req.Findings, 100)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

type reserveShardRequest struct {
	Kind       metadata.ResourceKind `json:"kind"`
	ResourceID string                `json:"resourceId"`
}

// ReserveShard handles POST /admin/shards/reserve.
func (a *AdminServer) ReserveShard(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req reserveShardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	res, err := a.shards.Reserve(r.Context(), shard.ReserveOptions{TenantID: caller.TenantID, Kind: req.Kind, ResourceID: req.ResourceID})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmShard handles POST /admin/shards/:reservationId/confirm.
func (a *AdminServer) ConfirmShard(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	reservationID := mux.Vars(r)["reservationId"]
	var body struct {
		ResourceID string `json:"resourceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	if err := a.shards.Confirm(r.Context(), caller.TenantID, reservationID, body.ResourceID); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelShard handles POST /admin/shards/:reservationId/cancel.
func (a *AdminServer) CancelShard(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	reservationID := mux.Vars(r)["reservationId"]
	if err := a.shards.Cancel(r.Context(), caller.TenantID, reservationID); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
