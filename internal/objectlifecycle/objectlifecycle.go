// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package objectlifecycle implements C3: atomic (bucket,key,version)
// create/replace/copy/delete enforcing the single-live-version invariant
// under concurrency (spec §4.3).
package objectlifecycle

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/lock"
	"storj.io/vaultstorage/internal/metadata"
)

// Error is the class of all objectlifecycle package errors.
var Error = errs.Class("objectlifecycle")

// DeleteEnqueuer schedules background backend deletion of old object
// versions (the job queue job named ObjectAdminDeleteAllBefore in spec
// §6). It is an external collaborator per spec §1; only its contract is
// specified here.
type DeleteEnqueuer interface {
	EnqueueObjectDeleteAllBefore(ctx context.Context, bucketID string, before time.Time) error
}

// SizeLimiter resolves the tenant-wide default size cap for an upload.
// Upload additionally honors UploadOptions.BucketSizeLimitBytes, the
// caller-supplied per-bucket cap, and takes whichever of the two is
// tighter (spec §4.3 step 6, "the bucket's or tenant's size limit").
type SizeLimiter interface {
	MaxObjectSize(ctx context.Context, tenantID, bucketID string) (int64, bool)
}

// Manager is C3, wired against the blob backend (C1), the metadata store
// (C2), the distributed lock (C4), and a delete-job enqueuer.
type Manager struct {
	log      *zap.Logger
	store    *metadata.Store
	backend  blob.Backend
	dbLock   *lock.DBLock
	enqueuer DeleteEnqueuer
	sizes    SizeLimiter

	globalBucket string
	versionSep   string
}

// Config configures a Manager.
type Config struct {
	GlobalBucket     string
	VersionSeparator string
}

// New constructs a Manager.
func New(log *zap.Logger, store *metadata.Store, backend blob.Backend, dbLock *lock.DBLock, enqueuer DeleteEnqueuer, sizes SizeLimiter, cfg Config) *Manager {
	if cfg.VersionSeparator == "" {
		cfg.VersionSeparator = "-$v-"
	}
	return &Manager{
		log: log, store: store, backend: backend, dbLock: dbLock, enqueuer: enqueuer, sizes: sizes,
		globalBucket: cfg.GlobalBucket, versionSep: cfg.VersionSeparator,
	}
}

// UploadOptions parameterizes Upload.
type UploadOptions struct {
	TenantID             string
	Identity             metadata.Identity
	BucketID             string
	BucketName           string
	ObjectName           string
	Owner                string
	Body                 io.Reader
	ContentType          string
	CacheControl         string
	IsUpsert             bool
	UploadTTL            time.Duration
	BucketSizeLimitBytes *int64
}

// Upload implements the "upload new/overwrite" contract of spec §4.3:
// acquire the lock, findOrCreateObjectForUpload, reserve the version in an
// Upload Record, stream to the backend, enforce size limits, and commit or
// roll back.
func (m *Manager) Upload(ctx context.Context, opts UploadOptions) (metadata.Object, error) {
	version := uuid.New().String()
	backendKey := opts.TenantID + "/" + opts.BucketName + "/" + opts.ObjectName

	var result metadata.Object
	var writeErr error

	err := m.store.WithTransaction(ctx, opts.TenantID, opts.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := m.dbLock.AcquireInTx(ctx, tx, opts.TenantID, opts.BucketName, opts.ObjectName, version); err != nil {
			return err
		}

		obj, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID:   opts.BucketID,
			ObjectName: opts.ObjectName,
			Owner:      opts.Owner,
			Version:    version,
			IsUpsert:   opts.IsUpsert,
		})
		if err != nil {
			return err
		}
		oldVersion := obj.Version

		if opts.UploadTTL <= 0 {
			opts.UploadTTL = time.Hour
		}
		upload, err := tx.CreateUpload(ctx, metadata.Upload{
			BucketID:   opts.BucketID,
			ObjectName: opts.ObjectName,
			Version:    version,
			Type:       metadata.UploadStandard,
			ExpiresAt:  time.Now().Add(opts.UploadTTL),
		})
		if err != nil {
			return err
		}

		limitedBody := opts.Body
		limit, ok := m.sizes.MaxObjectSize(ctx, opts.TenantID, opts.BucketID)
		if opts.BucketSizeLimitBytes != nil && (!ok || *opts.BucketSizeLimitBytes < limit) {
			limit, ok = *opts.BucketSizeLimitBytes, true
		}
		if ok {
			limitedBody = &sizeCheckedReader{r: opts.Body, limit: limit}
		}

		meta, err := m.backend.Write(ctx, m.globalBucket, backendKey, version, limitedBody, opts.ContentType, opts.CacheControl)
		if err != nil {
			writeErr = err
			var exceeded *sizeExceededError
			if errors.As(err, &exceeded) {
				_ = m.backend.Remove(context.Background(), m.globalBucket, backendKey, version)
				return errs2.New(errs2.KindEntityTooLarge, opts.ObjectName, exceeded.Error())
			}
			return errs2.Wrap(errs2.KindS3Error, opts.ObjectName, err)
		}

		if err := tx.CommitObjectVersion(ctx, opts.BucketID, opts.ObjectName, version, metadata.SystemMetadata{
			Size: meta.Size, MimeType: meta.ContentType, ETag: meta.ETag,
			LastModified: meta.LastModified, CacheControl: meta.CacheControl,
		}, nil); err != nil {
			return err
		}
		if err := tx.DeleteUpload(ctx, upload.ID); err != nil {
			return err
		}

		if oldVersion != "" && oldVersion != version {
			if err := m.enqueuer.EnqueueObjectDeleteAllBefore(ctx, opts.BucketID, time.Now()); err != nil {
				m.log.Warn("failed to enqueue old-version delete", zap.Error(err), zap.String("bucket_id", opts.BucketID))
			}
		}

		result, err = tx.GetObject(ctx, opts.BucketID, opts.ObjectName, metadata.LockNone)
		return err
	})

	if err != nil {
		// best-effort cleanup of the half-written version (spec §4.3 step
		// 7 "On failure ... issue a best-effort backend remove"), whether
		// the failure happened during the write itself or during commit.
		_ = writeErr
		_ = m.backend.Remove(context.Background(), m.globalBucket, backendKey, version)
		return metadata.Object{}, err
	}
	return result, nil
}

type sizeExceededError struct{ limit int64 }

func (e *sizeExceededError) Error() string { return "object exceeds configured size limit" }

type sizeCheckedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (s *sizeCheckedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.read += int64(n)
	if s.read > s.limit {
		return n, &sizeExceededError{limit: s.limit}
	}
	return n, err
}

// Get implements spec §4.3 Get: verifies the Object then streams from the
// backend using the current version. Range, conditional, and signed-URL
// reads are all served through this path.
func (m *Manager) Get(ctx context.Context, tenantID string, identity metadata.Identity, bucketID, bucketName, objectName string, readOpts blob.ReadOptions) (blob.ReadResult, metadata.Object, error) {
	var obj metadata.Object
	err := m.store.WithTransaction(ctx, tenantID, identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		obj, err = tx.GetObject(ctx, bucketID, objectName, metadata.LockForKeyShare)
		return err
	})
	if err != nil {
		return blob.ReadResult{}, metadata.Object{}, err
	}

	backendKey := tenantID + "/" + bucketName + "/" + objectName
	res, err := m.backend.Read(ctx, m.globalBucket, backendKey, obj.Version, readOpts)
	if err != nil {
		return blob.ReadResult{}, metadata.Object{}, errs2.Wrap(errs2.KindS3Error, objectName, err)
	}
	return res, obj, nil
}

// DeleteOptions parameterizes Delete.
type DeleteOptions struct {
	TenantID   string
	Identity   metadata.Identity
	BucketID   string
	ObjectName string
}

// Delete implements spec §4.3 Delete: removes the Object row and enqueues
// ObjectAdminDeleteAllBefore for the bucket.
func (m *Manager) Delete(ctx context.Context, opts DeleteOptions) error {
	var deleted metadata.Object
	err := m.store.WithTransaction(ctx, opts.TenantID, opts.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		deleted, err = tx.DeleteObject(ctx, opts.BucketID, opts.ObjectName)
		return err
	})
	if err != nil {
		return err
	}
	_ = deleted
	return m.enqueuer.EnqueueObjectDeleteAllBefore(ctx, opts.BucketID, time.Now())
}

// CopyOptions parameterizes Copy.
type CopyOptions struct {
	TenantID      string
	Identity      metadata.Identity
	BucketID      string
	BucketName    string
	SrcObjectName string
	DstBucketID   string
	DstBucketName string
	DstObjectName string
	Owner         string
}

// Copy implements spec §4.3 Copy: uses the backend's server-side copy for
// same-backend, small-enough objects; for larger objects callers should
// segment the copy themselves via the backend's UploadPartCopy at the
// configured part size (default 5 GiB max per part, up to 5 concurrent
// part copies per spec §4.3). The destination Object is created under a
// new version token and committed atomically.
func (m *Manager) Copy(ctx context.Context, opts CopyOptions) (metadata.Object, error) {
	var result metadata.Object
	version := uuid.New().String()

	err := m.store.WithTransaction(ctx, opts.TenantID, opts.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := m.dbLock.AcquireInTx(ctx, tx, opts.TenantID, opts.DstBucketName, opts.DstObjectName, version); err != nil {
			return err
		}

		src, err := tx.GetObject(ctx, opts.BucketID, opts.SrcObjectName, metadata.LockForShare)
		if err != nil {
			return err
		}

		srcKey := opts.TenantID + "/" + opts.BucketName + "/" + opts.SrcObjectName
		dstKey := opts.TenantID + "/" + opts.DstBucketName + "/" + opts.DstObjectName
		meta, err := m.backend.Copy(ctx, m.globalBucket, srcKey, src.Version, dstKey, version, blob.CopyOptions{})
		if err != nil {
			return errs2.Wrap(errs2.KindS3Error, opts.DstObjectName, err)
		}

		dstObj, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: opts.DstBucketID, ObjectName: opts.DstObjectName, Owner: opts.Owner, Version: version, IsUpsert: true,
		})
		if err != nil {
			return err
		}
		if err := tx.CommitObjectVersion(ctx, opts.DstBucketID, opts.DstObjectName, version, metadata.SystemMetadata{
			Size: meta.Size, MimeType: meta.ContentType, ETag: meta.ETag, LastModified: meta.LastModified,
		}, src.UserMetadata); err != nil {
			return err
		}

		result = dstObj
		result.Version = version
		return nil
	})
	if err != nil {
		return metadata.Object{}, err
	}
	return result, nil
}

// PartCopySpec describes one segment of a large, part-copy-segmented Copy.
type PartCopySpec struct {
	PartNumber int
	Range      blob.ByteRange
}

// DefaultCopyPartSize is the default maximum per-part size for segmented
// copies (spec §4.3: "default 5 GB maximum per part").
const DefaultCopyPartSize = 5 << 30

// MaxConcurrentPartCopies bounds how many UploadPartCopy calls run at once
// (spec §4.3: "up to 5 concurrent part copies").
const MaxConcurrentPartCopies = 5

// PlanPartCopy splits a totalSize-byte object into segments no larger than
// partSize, used by the S3-wire multipart copy path.
func PlanPartCopy(totalSize, partSize int64) []PartCopySpec {
	if partSize <= 0 {
		partSize = DefaultCopyPartSize
	}
	var specs []PartCopySpec
	partNumber := 1
	for start := int64(0); start < totalSize; start += partSize {
		end := start + partSize - 1
		if end >= totalSize {
			end = totalSize - 1
		}
		specs = append(specs, PartCopySpec{PartNumber: partNumber, Range: blob.ByteRange{Start: start, End: end}})
		partNumber++
	}
	return specs
}

// MoveOptions parameterizes Move.
type MoveOptions struct {
	TenantID            string
	Identity            metadata.Identity
	BucketID            string
	BucketName          string
	SrcObjectName       string
	DstBucketID         string
	DstBucketName       string
	DstObjectName       string
	Owner               string
}

// Move implements spec §4.3 Move = copy + delete source under a single C2
// transaction.
func (m *Manager) Move(ctx context.Context, opts MoveOptions) (metadata.Object, error) {
	var result metadata.Object
	version := uuid.New().String()

	err := m.store.WithTransaction(ctx, opts.TenantID, opts.Identity, func(ctx context.Context, tx *metadata.Tx) error {
		if err := m.dbLock.AcquireInTx(ctx, tx, opts.TenantID, opts.DstBucketName, opts.DstObjectName, version); err != nil {
			return err
		}

		src, err := tx.GetObject(ctx, opts.BucketID, opts.SrcObjectName, metadata.LockForUpdate)
		if err != nil {
			return err
		}

		srcKey := opts.TenantID + "/" + opts.BucketName + "/" + opts.SrcObjectName
		dstKey := opts.TenantID + "/" + opts.DstBucketName + "/" + opts.DstObjectName
		meta, err := m.backend.Copy(ctx, m.globalBucket, srcKey, src.Version, dstKey, version, blob.CopyOptions{})
		if err != nil {
			return errs2.Wrap(errs2.KindS3Error, opts.DstObjectName, err)
		}

		dstObj, err := tx.FindOrCreateObjectForUpload(ctx, metadata.FindOrCreateObjectForUploadOptions{
			BucketID: opts.DstBucketID, ObjectName: opts.DstObjectName, Owner: opts.Owner, Version: version, IsUpsert: true,
		})
		if err != nil {
			return err
		}
		if err := tx.CommitObjectVersion(ctx, opts.DstBucketID, opts.DstObjectName, version, metadata.SystemMetadata{
			Size: meta.Size, MimeType: meta.ContentType, ETag: meta.ETag, LastModified: meta.LastModified,
		}, src.UserMetadata); err != nil {
			return err
		}

		if _, err := tx.DeleteObject(ctx, opts.BucketID, opts.SrcObjectName); err != nil {
			return err
		}

		result = dstObj
		result.Version = version
		return nil
	})
	if err != nil {
		return metadata.Object{}, err
	}
	return result, nil
}
