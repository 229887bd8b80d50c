// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package tus implements C5, the resumable upload state machine described
// in spec §4.5: POST (create), HEAD (offset probe), PATCH (append), and
// DELETE (abort), serialized per-upload by C4 and backed by C1 multipart
// uploads and C2 Upload Records.
package tus

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/lock"
	"storj.io/vaultstorage/internal/metadata"
)

// Error is the class of all tus package errors.
var Error = errs.Class("tus")

// State is one of the TUS upload lifecycle states (spec §4.5).
type State string

// State values.
const (
	StateNew        State = "New"
	StateCreated    State = "Created"
	StateInProgress State = "InProgress"
	StateFinalized  State = "Finalized"
	StateAborted    State = "Aborted"
	StateExpired    State = "Expired"
)

// UploadID is the parsed form of a TUS upload identifier:
// tenant/bucket/object[SEP]version (spec §4.5 "Upload identifier").
type UploadID struct {
	Tenant  string
	Bucket  string
	Object  string
	Version string
}

// ParseUploadID strictly parses raw, rejecting ids missing any component.
// Separator matches the configured version separator sep (spec allows "/"
// or "-$v-", same choice as the blob backend).
func ParseUploadID(raw, sep string) (UploadID, error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) != 3 {
		return UploadID{}, errs2.New(errs2.KindInvalidUploadID, raw, "upload id missing tenant/bucket/object components")
	}
	tenant, bucket, rest := parts[0], parts[1], parts[2]
	idx := strings.LastIndex(rest, sep)
	if idx < 0 {
		return UploadID{}, errs2.New(errs2.KindInvalidUploadID, raw, "upload id missing version component")
	}
	object, version := rest[:idx], rest[idx+len(sep):]
	if tenant == "" || bucket == "" || object == "" || version == "" {
		return UploadID{}, errs2.New(errs2.KindInvalidUploadID, raw, "upload id has empty component")
	}
	return UploadID{Tenant: tenant, Bucket: bucket, Object: object, Version: version}, nil
}

// String serializes an UploadID identically to storage keys.
func (u UploadID) String(sep string) string {
	return u.Tenant + "/" + u.Bucket + "/" + u.Object + sep + u.Version
}

// Metadata carries the recognized TUS Upload-Metadata keys (spec §6).
type Metadata struct {
	BucketName   string
	ObjectName   string
	ContentType  string
	CacheControl string
}

// RequestContext is the per-request context the TUS framework invokes
// lifecycle callbacks on, instead of a global singleton (spec §9 design
// notes: "handlers receive a per-request context carrying {storage, owner,
// tenantId}").
type RequestContext struct {
	TenantID string
	Owner    string
	Identity metadata.Identity

	// kv is a task-scoped store for in-flight upload metadata the
	// multipart driver reads and writes transparently, so it never
	// contaminates the process-global store (spec §4.5 "KV for in-flight
	// upload metadata").
	kv map[string]string
}

// NewRequestContext constructs a RequestContext with a fresh scoped KV map.
func NewRequestContext(tenantID, owner string, identity metadata.Identity) *RequestContext {
	return &RequestContext{TenantID: tenantID, Owner: owner, Identity: identity, kv: map[string]string{}}
}

// Engine is C5, wired against the blob backend, metadata store, and
// distributed lock.
type Engine struct {
	log          *zap.Logger
	store        *metadata.Store
	backend      blob.Backend
	dbLock       *lock.DBLock
	globalBucket string
	sep          string
	defaultTTL   time.Duration
	partSize     int64
}

// Config configures an Engine.
type Config struct {
	GlobalBucket     string
	VersionSeparator string
	UploadTTL        time.Duration
	PartSize         int64
}

// New constructs an Engine.
func New(log *zap.Logger, store *metadata.Store, backend blob.Backend, dbLock *lock.DBLock, cfg Config) *Engine {
	if cfg.VersionSeparator == "" {
		cfg.VersionSeparator = "-$v-"
	}
	if cfg.UploadTTL <= 0 {
		cfg.UploadTTL = 24 * time.Hour
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = 8 << 20
	}
	return &Engine{log: log, store: store, backend: backend, dbLock: dbLock, globalBucket: cfg.GlobalBucket, sep: cfg.VersionSeparator, defaultTTL: cfg.UploadTTL, partSize: cfg.PartSize}
}

// CreateOptions parameterizes Create.
type CreateOptions struct {
	RC             *RequestContext
	BucketID       string
	Meta           Metadata
	UploadLength   int64
	LengthDeferred bool
}

// CreateResult is returned by Create.
type CreateResult struct {
	UploadID UploadID
	State    State
}

// Create handles POST: mints a version, acquires the C4 lock, creates the
// Upload Record, calls findOrCreateObjectForUpload, and opens a multipart
// upload on C1 (spec §4.5 POST).
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	version := uuid.New().String()
	uid := UploadID{Tenant: opts.RC.TenantID, Bucket: opts.Meta.BucketName, Object: opts.Meta.ObjectName, Version: version}
	backendKey := opts.RC.TenantID + "/" + opts.Meta.BucketName + "/" + opts.Meta.ObjectName

	err := e.store.WithTransaction(ctx, opts.RC.TenantID, opts.RC.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := e.dbLock.AcquireInTx(ctx, tx, opts.RC.TenantID, opts.Meta.BucketName, opts.Meta.ObjectName, version); err != nil {
			return err
		}
		if _, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: opts.BucketID, ObjectName: opts.Meta.ObjectName, Owner: opts.RC.Owner, Version: version, IsUpsert: true,
		}); err != nil {
			return err
		}

		backendUploadID, err := e.backend.CreateMultipartUpload(ctx, e.globalBucket, backendKey, version, opts.Meta.ContentType)
		if err != nil {
			return errs2.Wrap(errs2.KindS3Error, opts.Meta.ObjectName, err)
		}
		opts.RC.kv[uid.String(e.sep)] = backendUploadID

		_, err = tx.CreateUpload(ctx, metadata.Upload{
			BucketID: opts.BucketID, ObjectName: opts.Meta.ObjectName, Version: version,
			Type: metadata.UploadMultipart, UploadID: backendUploadID,
			Length: opts.UploadLength, LengthKnown: !opts.LengthDeferred,
			Metadata:  map[string]string{"contentType": opts.Meta.ContentType, "cacheControl": opts.Meta.CacheControl},
			ExpiresAt: time.Now().Add(e.defaultTTL),
		})
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{UploadID: uid, State: StateCreated}, nil
}

// Offset handles HEAD: returns the recorded byte offset (spec §4.5 HEAD).
func (e *Engine) Offset(ctx context.Context, rc *RequestContext, bucketID string, uid UploadID) (int64, error) {
	var offset int64
	err := e.store.WithTransaction(ctx, rc.TenantID, rc.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		u, err := tx.GetUpload(ctx, bucketID, uid.Object, uid.Version)
		if err != nil {
			return err
		}
		offset = u.Offset
		return nil
	})
	return offset, err
}

// PatchOptions parameterizes Patch.
type PatchOptions struct {
	RC           *RequestContext
	BucketID     string
	UploadID     UploadID
	ExpectOffset int64
	Body         io.Reader
	BodyLength   int64
}

// PatchResult is returned by Patch.
type PatchResult struct {
	NewOffset int64
	State     State
	Finalized metadata.Object
}

// Patch handles PATCH: verifies the offset matches, streams the body as
// the next multipart part, and finalizes if the declared length is
// reached (spec §4.5 PATCH). Out-of-order PATCH offsets are rejected
// (spec §5 Ordering guarantees), preserving invariant IV6.
func (e *Engine) Patch(ctx context.Context, opts PatchOptions) (PatchResult, error) {
	var result PatchResult

	err := e.store.WithTransaction(ctx, opts.RC.TenantID, opts.RC.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := e.dbLock.AcquireInTx(ctx, tx, opts.RC.TenantID, opts.UploadID.Bucket, opts.UploadID.Object, opts.UploadID.Version); err != nil {
			return err
		}

		u, err := tx.GetUpload(ctx, opts.BucketID, opts.UploadID.Object, opts.UploadID.Version)
		if err != nil {
			return err
		}
		if u.Offset != opts.ExpectOffset {
			return errs2.New(errs2.KindInvalidParameter, opts.UploadID.Object, "upload offset mismatch")
		}

		backendKey := opts.RC.TenantID + "/" + opts.UploadID.Bucket + "/" + opts.UploadID.Object
		partNumber := int(u.Offset/e.partSize) + 1
		part, err := e.backend.UploadPart(ctx, e.globalBucket, backendKey, opts.UploadID.Version, u.UploadID, partNumber, opts.Body)
		if err != nil {
			return errs2.Wrap(errs2.KindS3Error, opts.UploadID.Object, err)
		}

		newOffset := u.Offset + part.Size
		parts := append(u.Parts, metadata.UploadPart{PartNumber: part.PartNumber, ETag: part.ETag, Size: part.Size})
		if err := tx.UpdateUploadProgress(ctx, u.ID, newOffset, parts); err != nil {
			return err
		}
		result.NewOffset = newOffset
		result.State = StateInProgress

		if u.LengthKnown && newOffset >= u.Length {
			backendParts := make([]blob.Part, len(parts))
			for i, p := range parts {
				backendParts[i] = blob.Part{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size}
			}
			meta, err := e.backend.CompleteMultipartUpload(ctx, e.globalBucket, backendKey, opts.UploadID.Version, u.UploadID, backendParts)
			if err != nil {
				return errs2.Wrap(errs2.KindS3Error, opts.UploadID.Object, err)
			}
			if err := tx.CommitObjectVersion(ctx, opts.BucketID, opts.UploadID.Object, opts.UploadID.Version, metadata.SystemMetadata{
				Size: meta.Size, MimeType: u.Metadata["contentType"], CacheControl: u.Metadata["cacheControl"], ETag: meta.ETag, LastModified: meta.LastModified,
			}, nil); err != nil {
				return err
			}
			if err := tx.DeleteUpload(ctx, u.ID); err != nil {
				return err
			}
			result.State = StateFinalized
			result.Finalized, err = tx.GetObject(ctx, opts.BucketID, opts.UploadID.Object, metadata.LockNone)
			return err
		}
		return nil
	})
	if err != nil {
		return PatchResult{}, err
	}
	return result, nil
}

// Abort handles DELETE: aborts the backend multipart upload and removes
// the Upload Record (spec §4.5 DELETE).
func (e *Engine) Abort(ctx context.Context, rc *RequestContext, bucketID string, uid UploadID) error {
	return e.store.WithTransaction(ctx, rc.TenantID, rc.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := e.dbLock.AcquireInTx(ctx, tx, rc.TenantID, uid.Bucket, uid.Object, uid.Version); err != nil {
			return err
		}
		u, err := tx.GetUpload(ctx, bucketID, uid.Object, uid.Version)
		if err != nil {
			return err
		}
		backendKey := rc.TenantID + "/" + uid.Bucket + "/" + uid.Object
		if err := e.backend.AbortMultipartUpload(ctx, e.globalBucket, backendKey, uid.Version, u.UploadID); err != nil {
			return errs2.Wrap(errs2.KindS3Error, uid.Object, err)
		}
		return tx.DeleteUpload(ctx, u.ID)
	})
}

// SweepExpired finds pending Upload Records past expiry, aborts their
// backend multipart uploads, and deletes the records (spec §4.5 Expiry).
// This is run periodically by a background worker; it does not itself
// take C4 locks since an expired upload's original holder is, by
// definition, gone.
func (e *Engine) SweepExpired(ctx context.Context, tenantID string, bucketName string, limit int) (int, error) {
	swept := 0
	err := e.store.AsSuperUser(ctx, tenantID, func(ctx context.Context, tx *metadata.Tx) error {
		expired, err := tx.ListExpiredUploads(ctx, time.Now(), limit)
		if err != nil {
			return err
		}
		for _, u := range expired {
			if u.Type != metadata.UploadMultipart {
				_ = tx.DeleteUpload(ctx, u.ID)
				swept++
				continue
			}
			backendKey := tenantID + "/" + bucketName + "/" + u.ObjectName
			if err := e.backend.AbortMultipartUpload(ctx, e.globalBucket, backendKey, u.Version, u.UploadID); err != nil {
				e.log.Warn("failed to abort expired multipart upload", zap.Error(err), zap.String("object", u.ObjectName))
				continue
			}
			if err := tx.DeleteUpload(ctx, u.ID); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept, err
}
