// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/tus"
)

// TUSServer exposes the resumable-upload endpoints (spec §4.5).
type TUSServer struct {
	store  *metadata.Store
	engine *tus.Engine
	sep    string
}

// NewTUSServer constructs a TUSServer.
func NewTUSServer(store *metadata.Store, engine *tus.Engine) *TUSServer {
	return &TUSServer{store: store, engine: engine, sep: "-$v-"}
}

// Create handles POST /upload/resumable/:bucket/*.
func (s *TUSServer) Create(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName, objectName := vars["bucket"], vars["object"]

	length, _ := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	deferred := r.Header.Get("Upload-Defer-Length") == "1"

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	rc := tus.NewRequestContext(caller.TenantID, caller.Identity.Sub, caller.Identity)
	res, err := s.engine.Create(r.Context(), tus.CreateOptions{
		RC: rc, BucketID: bucket.ID,
		Meta: tus.Metadata{
			BucketName: bucket.Name, ObjectName: objectName,
			ContentType: r.Header.Get("Content-Type"), CacheControl: r.Header.Get("Cache-Control"),
		},
		UploadLength: length, LengthDeferred: deferred,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.Header().Set("Location", "/upload/resumable/"+res.UploadID.String(s.sep))
	w.Header().Set("Tus-Resumable", "1.0.0")
	w.WriteHeader(http.StatusCreated)
}

// Head handles HEAD /upload/resumable/:bucket/*.
func (s *TUSServer) Head(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName := vars["bucket"]
	uid, err := tus.ParseUploadID(caller.TenantID+"/"+bucketName+"/"+vars["object"], s.sep)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	offset, err := s.engine.Offset(r.Context(), tus.NewRequestContext(caller.TenantID, caller.Identity.Sub, caller.Identity), bucket.ID, uid)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(offset, 10))
	w.Header().Set("Tus-Resumable", "1.0.0")
	w.WriteHeader(http.StatusOK)
}

// Patch handles PATCH /upload/resumable/:bucket/*.
func (s *TUSServer) Patch(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName := vars["bucket"]
	uid, err := tus.ParseUploadID(caller.TenantID+"/"+bucketName+"/"+vars["object"], s.sep)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	expectOffset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		errs2.WriteJSON(w, errs2.New(errs2.KindInvalidParameter, "", "missing or malformed Upload-Offset"))
		return
	}

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	res, err := s.engine.Patch(r.Context(), tus.PatchOptions{
		RC: tus.NewRequestContext(caller.TenantID, caller.Identity.Sub, caller.Identity),
		BucketID: bucket.ID, UploadID: uid, ExpectOffset: expectOffset,
		Body: r.Body, BodyLength: r.ContentLength,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(res.NewOffset, 10))
	w.Header().Set("Tus-Resumable", "1.0.0")
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /upload/resumable/:bucket/* (spec §4.5 DELETE:
// "Cancellation of a TUS PATCH must trigger abortMultipartUpload only
// when explicitly requested").
func (s *TUSServer) Delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	vars := mux.Vars(r)
	bucketName := vars["bucket"]
	uid, err := tus.ParseUploadID(caller.TenantID+"/"+bucketName+"/"+vars["object"], s.sep)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	bucket, err := s.getBucket(r, caller, bucketName)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	if err := s.engine.Abort(r.Context(), tus.NewRequestContext(caller.TenantID, caller.Identity.Sub, caller.Identity), bucket.ID, uid); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *TUSServer) getBucket(r *http.Request, caller Caller, name string) (metadata.Bucket, error) {
	var b metadata.Bucket
	err := s.store.WithTransaction(r.Context(), caller.TenantID, caller.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		b, err = tx.GetBucket(ctx, name)
		return err
	})
	return b, err
}
