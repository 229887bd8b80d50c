// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package blob

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec // ETag compatibility with S3-style content hashes, not for security
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// xattr keys. Per spec §9 design notes, the etag must not share a key with
// content-type (the documented fix for the source bug where both were
// stored under 'user.supabase.content-type').
const (
	xattrContentType  = "user.vault.content-type"
	xattrCacheControl = "user.vault.cache-control"
	xattrETag         = "user.vault.etag"
)

// ETagMode controls how the filesystem backend derives an object's ETag.
type ETagMode int

// ETagMode values.
const (
	ETagModeMD5 ETagMode = iota
	ETagModeMTimeSize
)

// FSBackend stores objects under rootDir/bucket/key<SEP>version, using
// extended attributes for content-type/cache-control/etag metadata (spec
// §4.1 Filesystem variant).
type FSBackend struct {
	rootDir  string
	sep      string
	etagMode ETagMode
}

// FSOption configures an FSBackend.
type FSOption func(*FSBackend)

// WithVersionSeparator overrides the default "-$v-" separator with sep
// (spec allows "/" or "-$v-").
func WithVersionSeparator(sep string) FSOption {
	return func(f *FSBackend) { f.sep = sep }
}

// WithETagMode selects how ETags are derived.
func WithETagMode(mode ETagMode) FSOption {
	return func(f *FSBackend) { f.etagMode = mode }
}

// NewFSBackend constructs a filesystem-backed Backend rooted at rootDir.
func NewFSBackend(rootDir string, opts ...FSOption) *FSBackend {
	f := &FSBackend{rootDir: rootDir, sep: "-$v-", etagMode: ETagModeMD5}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSBackend) path(bucket, key, version string) string {
	return filepath.Join(f.rootDir, bucket, WithVersion(key, version, f.sep))
}

func (f *FSBackend) multipartDir(bucket, key, version, uploadID string) string {
	return filepath.Join(f.rootDir, "multiparts", uploadID, bucket, WithVersion(key, version, f.sep))
}

func setXattr(path, key, value string) error {
	return unix.Setxattr(path, key, []byte(value), 0)
}

func getXattr(path, key string) (string, error) {
	buf := make([]byte, 4096)
	n, err := unix.Getxattr(path, key, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func (f *FSBackend) deriveETag(path string, info os.FileInfo) (string, error) {
	switch f.etagMode {
	case ETagModeMTimeSize:
		return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()), nil
	default:
		fh, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer func() { _ = fh.Close() }()
		h := md5.New() //nolint:gosec
		if _, err := io.Copy(h, fh); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}
}

func (f *FSBackend) statMetadata(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	contentType, _ := getXattr(path, xattrContentType)
	cacheControl, _ := getXattr(path, xattrCacheControl)
	etag, err := getXattr(path, xattrETag)
	if err != nil {
		etag, err = f.deriveETag(path, info)
		if err != nil {
			return Metadata{}, Error.Wrap(err)
		}
	}
	return Metadata{
		Size:         info.Size(),
		ContentType:  contentType,
		CacheControl: cacheControl,
		ETag:         etag,
		LastModified: info.ModTime(),
	}, nil
}

// Read implements Backend.
func (f *FSBackend) Read(ctx context.Context, bucket, key, version string, opts ReadOptions) (ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return ReadResult{}, err
	}
	path := f.path(bucket, key, version)
	meta, err := f.statMetadata(path)
	if err != nil {
		if os.IsNotExist(err) || os.IsNotExist(Unwrap(err)) {
			return ReadResult{}, Error.New("no such key %q", key)
		}
		return ReadResult{}, err
	}

	if opts.IfNoneMatch != "" && opts.IfNoneMatch == meta.ETag {
		return ReadResult{Metadata: meta, Status: StatusNotModified}, nil
	}
	if !opts.IfModifiedSince.IsZero() && !meta.LastModified.After(opts.IfModifiedSince) {
		return ReadResult{Metadata: meta, Status: StatusNotModified}, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return ReadResult{}, Error.Wrap(err)
	}

	if opts.Range != nil {
		start, end := opts.Range.Start, opts.Range.End
		if end == -1 || end >= meta.Size {
			end = meta.Size - 1
		}
		if start < 0 {
			start = meta.Size + opts.Range.Start
			if start < 0 {
				_ = fh.Close()
				return ReadResult{Metadata: meta, Status: StatusRangeNotSatisfiable}, nil
			}
			end = meta.Size - 1
		}
		if start > end || start >= meta.Size {
			_ = fh.Close()
			return ReadResult{Metadata: meta, Status: StatusRangeNotSatisfiable}, nil
		}
		if _, err := fh.Seek(start, io.SeekStart); err != nil {
			_ = fh.Close()
			return ReadResult{}, Error.Wrap(err)
		}
		meta.ContentRange = fmt.Sprintf("bytes %d-%d/%d", start, end, meta.Size)
		meta.Size = end - start + 1
		return ReadResult{
			Metadata: meta,
			Body:     &limitedReadCloser{r: bufio.NewReader(io.LimitReader(fh, meta.Size)), c: fh},
			Status:   StatusPartialContent,
		}, nil
	}

	return ReadResult{Metadata: meta, Body: fh, Status: StatusOK}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// Write implements Backend.
func (f *FSBackend) Write(ctx context.Context, bucket, key, version string, body io.Reader, contentType, cacheControl string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	path := f.path(bucket, key, version)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	fh, err := os.Create(path)
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	defer func() { _ = fh.Close() }()

	h := md5.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(fh, h), body)
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	etag := hex.EncodeToString(h.Sum(nil))

	_ = setXattr(path, xattrContentType, contentType)
	_ = setXattr(path, xattrCacheControl, cacheControl)
	_ = setXattr(path, xattrETag, etag)

	info, err := fh.Stat()
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	return Metadata{
		Size:         size,
		ContentType:  contentType,
		CacheControl: cacheControl,
		ETag:         etag,
		LastModified: info.ModTime(),
	}, nil
}

// Remove implements Backend.
func (f *FSBackend) Remove(ctx context.Context, bucket, key, version string) error {
	err := os.Remove(f.path(bucket, key, version))
	if err != nil && !os.IsNotExist(err) {
		return Error.Wrap(err)
	}
	return nil
}

// RemoveMany implements Backend.
func (f *FSBackend) RemoveMany(ctx context.Context, bucket string, keys []string) error {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(f.rootDir, bucket, k)); err != nil && !os.IsNotExist(err) {
			return Error.Wrap(err)
		}
	}
	return nil
}

// Copy implements Backend.
func (f *FSBackend) Copy(ctx context.Context, bucket, srcKey, srcVersion, dstKey, dstVersion string, opts CopyOptions) (Metadata, error) {
	src := f.path(bucket, srcKey, srcVersion)
	srcMeta, err := f.statMetadata(src)
	if err != nil {
		return Metadata{}, err
	}
	if opts.IfMatchETag != "" && opts.IfMatchETag != srcMeta.ETag {
		return Metadata{}, Error.New("precondition failed: etag mismatch")
	}
	fh, err := os.Open(src)
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	defer func() { _ = fh.Close() }()

	contentType := srcMeta.ContentType
	cacheControl := srcMeta.CacheControl
	for k, v := range opts.MetadataOverwrite {
		switch strings.ToLower(k) {
		case "content-type":
			contentType = v
		case "cache-control":
			cacheControl = v
		}
	}
	return f.Write(ctx, bucket, dstKey, dstVersion, fh, contentType, cacheControl)
}

// Stats implements Backend.
func (f *FSBackend) Stats(ctx context.Context, bucket, key, version string) (Metadata, error) {
	return f.statMetadata(f.path(bucket, key, version))
}

// List implements Backend.
func (f *FSBackend) List(ctx context.Context, bucket string, opts ListOptions) (ListResult, error) {
	base := filepath.Join(f.rootDir, bucket)
	var entries []ListEntry
	seen := map[string]bool{}
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Prefix != "" && !strings.HasPrefix(rel, opts.Prefix) {
			return nil
		}
		if !opts.BeforeDate.IsZero() && !info.ModTime().Before(opts.BeforeDate) {
			return nil
		}
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(rel, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				prefixEntry := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if !seen[prefixEntry] {
					seen[prefixEntry] = true
					entries = append(entries, ListEntry{Key: prefixEntry, IsPrefix: true})
				}
				return nil
			}
		}
		entries = append(entries, ListEntry{Key: rel, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return ListResult{}, Error.Wrap(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	if opts.StartAfter != "" {
		idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key > opts.StartAfter })
		entries = entries[idx:]
	}
	return ListResult{Entries: entries}, nil
}

// CreateMultipartUpload implements Backend: parts live as files under a
// per-upload temp directory until CompleteMultipartUpload concatenates them.
func (f *FSBackend) CreateMultipartUpload(ctx context.Context, bucket, key, version, contentType string) (string, error) {
	uploadID := hex.EncodeToString([]byte(fmt.Sprintf("%s/%s/%s/%d", bucket, key, version, time.Now().UnixNano())))[:32]
	dir := f.multipartDir(bucket, key, version, uploadID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", Error.Wrap(err)
	}
	sidecar := filepath.Join(dir, "metadata.json")
	if err := os.WriteFile(sidecar, []byte(fmt.Sprintf(`{"contentType":%q}`, contentType)), 0o640); err != nil {
		return "", Error.Wrap(err)
	}
	return uploadID, nil
}

// UploadPart implements Backend.
func (f *FSBackend) UploadPart(ctx context.Context, bucket, key, version, uploadID string, partNumber int, body io.Reader) (Part, error) {
	dir := f.multipartDir(bucket, key, version, uploadID)
	partPath := filepath.Join(dir, fmt.Sprintf("part-%d", partNumber))
	fh, err := os.Create(partPath)
	if err != nil {
		return Part{}, Error.Wrap(err)
	}
	defer func() { _ = fh.Close() }()

	h := md5.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(fh, h), body)
	if err != nil {
		return Part{}, Error.Wrap(err)
	}
	etag := hex.EncodeToString(h.Sum(nil))
	_ = setXattr(partPath, xattrETag, etag)
	return Part{PartNumber: partNumber, ETag: etag, Size: size}, nil
}

// UploadPartCopy implements Backend.
func (f *FSBackend) UploadPartCopy(ctx context.Context, bucket, key, version, uploadID string, partNumber int, srcKey, srcVersion string, rng *ByteRange) (Part, error) {
	src, err := os.Open(f.path(bucket, srcKey, srcVersion))
	if err != nil {
		return Part{}, Error.Wrap(err)
	}
	defer func() { _ = src.Close() }()
	var r io.Reader = src
	if rng != nil {
		if _, err := src.Seek(rng.Start, io.SeekStart); err != nil {
			return Part{}, Error.Wrap(err)
		}
		r = io.LimitReader(src, rng.End-rng.Start+1)
	}
	return f.UploadPart(ctx, bucket, key, version, uploadID, partNumber, r)
}

// CompleteMultipartUpload implements Backend: concatenates parts in
// PartNumber order into the final object and removes the temp directory.
func (f *FSBackend) CompleteMultipartUpload(ctx context.Context, bucket, key, version, uploadID string, parts []Part) (Metadata, error) {
	dir := f.multipartDir(bucket, key, version, uploadID)
	sorted := append([]Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var contentType string
	if raw, err := os.ReadFile(filepath.Join(dir, "metadata.json")); err == nil {
		_, _ = fmt.Sscanf(string(raw), `{"contentType":%q}`, &contentType)
	}

	finalPath := f.path(bucket, key, version)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	out, err := os.Create(finalPath)
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	defer func() { _ = out.Close() }()

	h := md5.New() //nolint:gosec
	var total int64
	for _, p := range sorted {
		partPath := filepath.Join(dir, fmt.Sprintf("part-%d", p.PartNumber))
		pf, err := os.Open(partPath)
		if err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		n, err := io.Copy(io.MultiWriter(out, h), pf)
		_ = pf.Close()
		if err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		total += n
	}
	etag := hex.EncodeToString(h.Sum(nil))
	_ = setXattr(finalPath, xattrContentType, contentType)
	_ = setXattr(finalPath, xattrETag, etag)

	_ = os.RemoveAll(dir)

	info, err := out.Stat()
	if err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	return Metadata{Size: total, ContentType: contentType, ETag: etag, LastModified: info.ModTime()}, nil
}

// AbortMultipartUpload implements Backend.
func (f *FSBackend) AbortMultipartUpload(ctx context.Context, bucket, key, version, uploadID string) error {
	return Error.Wrap(os.RemoveAll(f.multipartDir(bucket, key, version, uploadID)))
}

// TempPrivateAccessURL implements Backend with a file:// URL carrying an
// expiry query parameter; internal renderers resolve it directly, there is
// no real signature since the filesystem has no network-facing endpoint.
func (f *FSBackend) TempPrivateAccessURL(ctx context.Context, bucket, key, version string, ttl time.Duration) (string, error) {
	exp := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("file://%s?expires=%s", f.path(bucket, key, version), strconv.FormatInt(exp, 10)), nil
}

// Unwrap returns the innermost wrapped error, used to unwrap errs.Class
// wrapping before checking os.IsNotExist.
func Unwrap(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
