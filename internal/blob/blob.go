// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package blob defines the uniform byte-level I/O contract over the two
// supported backends (S3-compatible object storage and the local
// filesystem), per spec §4.1. Tenant isolation and all file-level
// invariants live above this layer, in internal/objectlifecycle and
// internal/metadata; Backend only ever moves bytes.
package blob

import (
	"context"
	"io"
	"time"

	"github.com/zeebo/errs"
)

// Error is the class of all blob package errors.
var Error = errs.Class("blob")

// Metadata describes a stored object version.
type Metadata struct {
	Size         int64
	ContentType  string
	CacheControl string
	ETag         string
	LastModified time.Time
	ContentRange string
}

// ReadOptions carries the conditional/range request headers honored by
// Backend.Read.
type ReadOptions struct {
	IfNoneMatch     string
	IfModifiedSince time.Time
	Range           *ByteRange
}

// ByteRange is an inclusive byte range, with End == -1 meaning "to EOF".
type ByteRange struct {
	Start int64
	End   int64
}

// ReadStatus is the HTTP-shaped outcome of a Read call.
type ReadStatus int

// ReadStatus values.
const (
	StatusOK ReadStatus = iota
	StatusNotModified
	StatusPartialContent
	StatusRangeNotSatisfiable
)

// ReadResult is returned by Read.
type ReadResult struct {
	Metadata Metadata
	Body     io.ReadCloser
	Status   ReadStatus
}

// ListOptions configures Backend.List.
type ListOptions struct {
	Prefix     string
	Delimiter  string
	NextToken  string
	StartAfter string
	BeforeDate time.Time
}

// ListEntry is one entry returned by List.
type ListEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
	IsPrefix     bool
}

// ListResult is the paged result of List.
type ListResult struct {
	Entries   []ListEntry
	NextToken string
}

// CopyOptions configures Backend.Copy.
type CopyOptions struct {
	MetadataOverwrite map[string]string
	IfMatchETag       string
}

// Part describes one uploaded multipart chunk.
type Part struct {
	PartNumber int
	ETag       string
	Size       int64
}

// Backend is the uniform capability set C1 exposes to C3/C5/C7. Every
// method accepts ctx and honors its cancellation (spec §5 suspension
// points). The two concrete implementations are S3 (backend_s3.go) and
// filesystem (backend_fs.go).
type Backend interface {
	Read(ctx context.Context, bucket, key, version string, opts ReadOptions) (ReadResult, error)
	Write(ctx context.Context, bucket, key, version string, body io.Reader, contentType, cacheControl string) (Metadata, error)
	Remove(ctx context.Context, bucket, key, version string) error
	RemoveMany(ctx context.Context, bucket string, keys []string) error
	Copy(ctx context.Context, bucket, srcKey, srcVersion, dstKey, dstVersion string, opts CopyOptions) (Metadata, error)
	Stats(ctx context.Context, bucket, key, version string) (Metadata, error)
	List(ctx context.Context, bucket string, opts ListOptions) (ListResult, error)

	CreateMultipartUpload(ctx context.Context, bucket, key, version, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, bucket, key, version, uploadID string, partNumber int, body io.Reader) (Part, error)
	UploadPartCopy(ctx context.Context, bucket, key, version, uploadID string, partNumber int, srcKey, srcVersion string, rng *ByteRange) (Part, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, version, uploadID string, parts []Part) (Metadata, error)
	AbortMultipartUpload(ctx context.Context, bucket, key, version, uploadID string) error

	TempPrivateAccessURL(ctx context.Context, bucket, key, version string, ttl time.Duration) (string, error)
}

// WithVersion derives the backend key for a (key, version) pair using sep
// as the version separator (spec §4.1 "Version-key derivation"). Callers of
// Backend never need internal path shapes beyond this helper.
func WithVersion(key, version, sep string) string {
	return key + sep + version
}
