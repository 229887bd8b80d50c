// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package metadata implements C2, the transactional metadata catalog: the
// tenant registry, bucket/object/version/upload rows, S3 credentials, and
// shard placement state (spec §3, §4.2). The blob backend (internal/blob)
// stores bytes only; every access-control and consistency decision is made
// here, against Postgres, so that row-level security policies can apply.
package metadata

import (
	"time"

	"github.com/google/uuid"
)

// MigrationStatus is the lifecycle status of a tenant's schema migrations.
type MigrationStatus string

// MigrationStatus values (spec §3 Tenant).
const (
	MigrationPending   MigrationStatus = "pending"
	MigrationCompleted MigrationStatus = "completed"
	MigrationFailed    MigrationStatus = "failed"
)

// Tenant is the isolation boundary (spec §3).
type Tenant struct {
	ID                     string
	EncryptedDatabaseURL   string
	EncryptedPoolURL       string
	MaxConnections         int
	EncryptedJWTSecret     string
	JWKSURL                string
	FeatureFlags           map[string]bool
	MaxObjectSizeBytes     *int64
	MigrationsVersion      string
	MigrationsStatus       MigrationStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Bucket is a named namespace inside a tenant (spec §3).
type Bucket struct {
	ID               string
	Name             string
	Owner            string
	Public           bool
	SizeLimitBytes   *int64
	AllowedMimeTypes []string
	DiskRef          string
	Placement        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SystemMetadata is the subset of Object.Metadata the system itself writes.
type SystemMetadata struct {
	Size         int64
	MimeType     string
	ETag         string
	LastModified time.Time
	CacheControl string
	ContentRange string
}

// Object is the logical file identity (spec §3).
type Object struct {
	ID             string
	BucketID       string
	Name           string
	Owner          string
	Metadata       SystemMetadata
	UserMetadata   map[string]string
	LastAccessedAt time.Time
	Version        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UploadType distinguishes standard (TUS/single-shot) from multipart
// uploads (spec §3 Upload Record).
type UploadType string

// UploadType values.
const (
	UploadStandard  UploadType = "STANDARD"
	UploadMultipart UploadType = "MULTIPART"
)

// UploadPart records one already-uploaded multipart chunk, mirroring
// blob.Part, so CompleteMultipartUpload can be called with the ordered part
// list it requires instead of losing track of parts between PATCH calls.
type UploadPart struct {
	PartNumber int
	ETag       string
	Size       int64
}

// Upload is an in-progress or finalized upload record (spec §3).
type Upload struct {
	ID          string
	BucketID    string
	ObjectName  string
	Version     string
	Type        UploadType
	UploadID    string // backend multipart upload id, empty for STANDARD
	Offset      int64
	Length      int64
	LengthKnown bool
	Metadata    map[string]string
	Parts       []UploadPart
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// S3Credential authenticates the S3-wire protocol for a tenant (spec §3).
type S3Credential struct {
	ID              string
	TenantID        string
	AccessKeyID     string
	EncryptedSecret string
	Role            string
	Sub             string
	CreatedAt       time.Time
}

// LockMode selects the row-lock strength Object reads may request (spec
// §4.2 "Object CRUD with optional row lock").
type LockMode int

// LockMode values, matching Postgres row-locking clauses.
const (
	LockNone LockMode = iota
	LockForUpdate
	LockForShare
	LockForKeyShare
)

func (m LockMode) sqlSuffix() string {
	switch m {
	case LockForUpdate:
		return " FOR UPDATE"
	case LockForShare:
		return " FOR SHARE"
	case LockForKeyShare:
		return " FOR KEY SHARE"
	default:
		return ""
	}
}

// FindOrCreateObjectForUploadOptions parameterizes
// Store.FindOrCreateObjectForUpload (spec §4.2).
type FindOrCreateObjectForUploadOptions struct {
	BucketID   string
	ObjectName string
	Owner      string
	Version    string
	IsUpsert   bool
}

// NewID mints a random identifier for any of the above rows.
func NewID() string { return uuid.New().String() }
