// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/objectlifecycle"
)

// ObjectServer exposes the object endpoints (spec §6 "Object endpoints").
type ObjectServer struct {
	store   *metadata.Store
	manager *objectlifecycle.Manager
}

// NewObjectServer constructs an ObjectServer.
func NewObjectServer(store *metadata.Store, manager *objectlifecycle.Manager) *ObjectServer {
	return &ObjectServer{store: store, manager: manager}
}

// Put handles POST/PUT /object/:bucket/*: upload or overwrite.
func (s *ObjectServer) Put(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName, objectName := vars["bucket"], vars["object"]

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	obj, err := s.manager.Upload(r.Context(), objectlifecycle.UploadOptions{
		TenantID: caller.TenantID, Identity: caller.Identity,
		BucketID: bucket.ID, BucketName: bucket.Name, ObjectName: objectName,
		Owner: caller.Identity.Sub, Body: r.Body,
		ContentType:          r.Header.Get("Content-Type"),
		CacheControl:         r.Header.Get("Cache-Control"),
		IsUpsert:             true,
		BucketSizeLimitBytes: bucket.SizeLimitBytes,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// Get handles GET /object/:bucket/*.
func (s *ObjectServer) Get(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, true)
}

// Head handles HEAD /object/:bucket/*.
func (s *ObjectServer) Head(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, false)
}

func (s *ObjectServer) get(w http.ResponseWriter, r *http.Request, withBody bool) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName, objectName := vars["bucket"], vars["object"]

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	readOpts := blob.ReadOptions{IfNoneMatch: r.Header.Get("If-None-Match")}
	if rng := parseRange(r.Header.Get("Range")); rng != nil {
		readOpts.Range = rng
	}

	res, obj, err := s.manager.Get(r.Context(), caller.TenantID, caller.Identity, bucket.ID, bucket.Name, objectName, readOpts)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	defer func() { _ = res.Body.Close() }()

	w.Header().Set("ETag", res.Metadata.ETag)
	w.Header().Set("Content-Type", res.Metadata.ContentType)
	w.Header().Set("Last-Modified", res.Metadata.LastModified.UTC().Format(http.TimeFormat))
	if res.Metadata.CacheControl != "" {
		w.Header().Set("Cache-Control", res.Metadata.CacheControl)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(res.Metadata.Size, 10))
	_ = obj

	switch res.Status {
	case blob.StatusNotModified:
		w.WriteHeader(http.StatusNotModified)
	case blob.StatusPartialContent:
		w.WriteHeader(http.StatusPartialContent)
	case blob.StatusRangeNotSatisfiable:
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	default:
		w.WriteHeader(http.StatusOK)
	}
	if withBody {
		_, _ = io.Copy(w, res.Body)
	}
}

// Delete handles DELETE /object/:bucket/*.
func (s *ObjectServer) Delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName, objectName := vars["bucket"], vars["object"]

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	if err := s.manager.Delete(r.Context(), objectlifecycle.DeleteOptions{
		TenantID: caller.TenantID, Identity: caller.Identity, BucketID: bucket.ID, ObjectName: objectName,
	}); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type multiDeleteRequest struct {
	Prefixes []string `json:"prefixes"`
}

// MultiDelete handles DELETE /object/:bucket with a {prefixes:[]} body.
func (s *ObjectServer) MultiDelete(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	bucketName := mux.Vars(r)["bucket"]

	var req multiDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}
	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	deleted := make([]string, 0, len(req.Prefixes))
	for _, name := range req.Prefixes {
		if err := s.manager.Delete(r.Context(), objectlifecycle.DeleteOptions{
			TenantID: caller.TenantID, Identity: caller.Identity, BucketID: bucket.ID, ObjectName: name,
		}); err != nil {
			continue
		}
		deleted = append(deleted, name)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"deleted": deleted})
}

type listObjectsRequest struct {
	Prefix     string `json:"prefix"`
	StartAfter string `json:"startAfter"`
	Limit      int    `json:"limit"`
}

// List handles POST /object/list/:bucket.
func (s *ObjectServer) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	bucketName := mux.Vars(r)["bucket"]

	var req listObjectsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	var objs []metadata.Object
	err = s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		objs, err = tx.ListObjects(ctx, bucket.ID, req.Prefix, req.StartAfter, req.Limit)
		return err
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

type copyRequest struct {
	SourceBucket string `json:"sourceBucket"`
	SourceKey    string `json:"sourceKey"`
	DestBucket   string `json:"destBucket"`
	DestKey      string `json:"destKey"`
}

// Copy handles POST /object/copy.
func (s *ObjectServer) Copy(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}

	src, err := s.getBucket(r, caller, req.SourceBucket)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	dst, err := s.getBucket(r, caller, req.DestBucket)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	obj, err := s.manager.Copy(r.Context(), objectlifecycle.CopyOptions{
		TenantID: caller.TenantID, Identity: caller.Identity,
		BucketID: src.ID, BucketName: src.Name, SrcObjectName: req.SourceKey,
		DstBucketID: dst.ID, DstBucketName: dst.Name, DstObjectName: req.DestKey,
		Owner: caller.Identity.Sub,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// Move handles POST /object/move.
func (s *ObjectServer) Move(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "malformed request body"))
		return
	}

	src, err := s.getBucket(r, caller, req.SourceBucket)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	dst, err := s.getBucket(r, caller, req.DestBucket)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	obj, err := s.manager.Move(r.Context(), objectlifecycle.MoveOptions{
		TenantID: caller.TenantID, Identity: caller.Identity,
		BucketID: src.ID, BucketName: src.Name, SrcObjectName: req.SourceKey,
		DstBucketID: dst.ID, DstBucketName: dst.Name, DstObjectName: req.DestKey,
		Owner: caller.Identity.Sub,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *ObjectServer) getBucket(r *http.Request, caller Caller, name string) (metadata.Bucket, error) {
	var b metadata.Bucket
	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		b, err = tx.GetBucket(ctx, name)
		return err
	})
	return b, err
}

// parseRange parses a single-range "bytes=start-end" header value (spec §8
// boundary behavior: "Range: bytes=-100 on a 50-byte object ... 416").
func parseRange(header string) *blob.ByteRange {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil
	}
	rng := &blob.ByteRange{End: -1}
	if parts[0] != "" {
		n, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil
		}
		rng.Start = n
	} else {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil
		}
		rng.Start = -n
		return rng
	}
	if parts[1] != "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil
		}
		rng.End = n
	}
	return rng
}
