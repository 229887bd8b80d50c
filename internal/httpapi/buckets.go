// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
)

// BucketServer exposes the bucket CRUD endpoints (spec §6 "Bucket
// endpoints: standard CRUD + empty").
type BucketServer struct {
	store *metadata.Store
}

// NewBucketServer constructs a BucketServer.
func NewBucketServer(store *metadata.Store) *BucketServer {
	return &BucketServer{store: store}
}

type createBucketRequest struct {
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	SizeLimitBytes   *int64   `json:"sizeLimitBytes"`
	AllowedMimeTypes []string `json:"allowedMimeTypes"`
	Placement        string   `json:"placement"`
}

func (s *BucketServer) Create(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req createBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	if err := validateBucketName(req.Name); err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	var created metadata.Bucket
	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		created, err = tx.CreateBucket(ctx, metadata.Bucket{
			Name: req.Name, Owner: caller.Identity.Sub, Public: req.Public,
			SizeLimitBytes: req.SizeLimitBytes, AllowedMimeTypes: req.AllowedMimeTypes, Placement: req.Placement,
		})
		return err
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *BucketServer) Get(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	name := mux.Vars(r)["bucket"]

	var b metadata.Bucket
	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		b, err = tx.GetBucket(ctx, name)
		return err
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *BucketServer) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var out []metadata.Bucket
	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		out, err = tx.ListBuckets(ctx)
		return err
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateBucketRequest struct {
	Public           *bool    `json:"public"`
	SizeLimitBytes   *int64   `json:"sizeLimitBytes"`
	AllowedMimeTypes []string `json:"allowedMimeTypes"`
	Placement        string   `json:"placement"`
}

func (s *BucketServer) Update(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	name := mux.Vars(r)["bucket"]
	var req updateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}

	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		if req.Public != nil {
			b.Public = *req.Public
		}
		if req.SizeLimitBytes != nil {
			b.SizeLimitBytes = req.SizeLimitBytes
		}
		if req.AllowedMimeTypes != nil {
			b.AllowedMimeTypes = req.AllowedMimeTypes
		}
		if req.Placement != "" {
			b.Placement = req.Placement
		}
		return tx.UpdateBucket(ctx, b)
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a bucket, rejecting non-empty buckets (spec §3 "Deletion
// is blocked while non-empty").
func (s *BucketServer) Delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	name := mux.Vars(r)["bucket"]

	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		n, err := tx.CountObjectsInBucket(ctx, b.ID, 1)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs2.New(errs2.KindInvalidParameter, name, "bucket is not empty")
		}
		return tx.DeleteBucket(ctx, b.ID)
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Empty deletes every object in the bucket without deleting the bucket
// itself (spec §6 "standard CRUD + empty").
func (s *BucketServer) Empty(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	name := mux.Vars(r)["bucket"]

	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		b, err := tx.GetBucket(ctx, name)
		if err != nil {
			return err
		}
		after := ""
		for {
			objs, err := tx.ListObjects(ctx, b.ID, "", after, 500)
			if err != nil {
				return err
			}
			if len(objs) == 0 {
				return nil
			}
			for _, o := range objs {
				if _, err := tx.DeleteObject(ctx, b.ID, o.Name); err != nil {
					return err
				}
			}
			after = objs[len(objs)-1].Name
		}
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateBucketName(name string) error {
	if name == "" || name != strings.TrimSpace(name) {
		return errs2.New(errs2.KindInvalidBucketName, name, "bucket name must not be empty or whitespace-padded")
	}
	return nil
}
