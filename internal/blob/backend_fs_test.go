// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package blob_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/vaultstorage/internal/blob"
)

// testBackendCRUD runs the shared contract against a Backend implementation,
// grounded on the teacher's generic kvstore.Store contract-test style
// (private/kvstore/testsuite/test_crud.go ran the same CRUD sequence
// against every kvstore.Store implementation).
func testBackendCRUD(t *testing.T, backend blob.Backend) {
	ctx := context.Background()
	body := []byte("hello world, 望舌诊病.pdf content")

	meta, err := backend.Write(ctx, "bucket-a", "a/b/c.pdf", "v1", bytes.NewReader(body), "application/pdf", "max-age=60")
	require.NoError(t, err)
	require.Equal(t, int64(len(body)), meta.Size)

	stat, err := backend.Stats(ctx, "bucket-a", "a/b/c.pdf", "v1")
	require.NoError(t, err)
	require.Equal(t, meta.ETag, stat.ETag)

	res, err := backend.Read(ctx, "bucket-a", "a/b/c.pdf", "v1", blob.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, blob.StatusOK, res.Status)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, body, got)

	res, err = backend.Read(ctx, "bucket-a", "a/b/c.pdf", "v1", blob.ReadOptions{IfNoneMatch: meta.ETag})
	require.NoError(t, err)
	require.Equal(t, blob.StatusNotModified, res.Status)

	res, err = backend.Read(ctx, "bucket-a", "a/b/c.pdf", "v1", blob.ReadOptions{Range: &blob.ByteRange{Start: 0, End: 4}})
	require.NoError(t, err)
	require.Equal(t, blob.StatusPartialContent, res.Status)
	partial, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, body[:5], partial)

	require.NoError(t, backend.Remove(ctx, "bucket-a", "a/b/c.pdf", "v1"))
	_, err = backend.Stats(ctx, "bucket-a", "a/b/c.pdf", "v1")
	require.Error(t, err)
}

func TestFSBackendCRUD(t *testing.T) {
	backend := blob.NewFSBackend(t.TempDir())
	testBackendCRUD(t, backend)
}

func TestFSBackendCopy(t *testing.T) {
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()
	body := []byte("copy-me")

	_, err := backend.Write(ctx, "b", "src.txt", "v1", bytes.NewReader(body), "text/plain", "")
	require.NoError(t, err)

	_, err = backend.Copy(ctx, "b", "src.txt", "v1", "dst.txt", "v2", blob.CopyOptions{})
	require.NoError(t, err)

	res, err := backend.Read(ctx, "b", "dst.txt", "v2", blob.ReadOptions{})
	require.NoError(t, err)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, body, got)
}

func TestFSBackendMultipart(t *testing.T) {
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()

	uploadID, err := backend.CreateMultipartUpload(ctx, "b", "big.bin", "v1", "application/octet-stream")
	require.NoError(t, err)

	p1, err := backend.UploadPart(ctx, "b", "big.bin", "v1", uploadID, 1, bytes.NewReader([]byte("part-one-")))
	require.NoError(t, err)
	p2, err := backend.UploadPart(ctx, "b", "big.bin", "v1", uploadID, 2, bytes.NewReader([]byte("part-two")))
	require.NoError(t, err)

	meta, err := backend.CompleteMultipartUpload(ctx, "b", "big.bin", "v1", uploadID, []blob.Part{p2, p1})
	require.NoError(t, err)
	require.Equal(t, int64(len("part-one-part-two")), meta.Size)

	res, err := backend.Read(ctx, "b", "big.bin", "v1", blob.ReadOptions{})
	require.NoError(t, err)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, "part-one-part-two", string(got))
}

func TestFSBackendZeroByteUpload(t *testing.T) {
	// spec §8 boundary: a zero-byte upload succeeds and yields size=0.
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()
	meta, err := backend.Write(ctx, "b", "empty.txt", "v1", bytes.NewReader(nil), "text/plain", "")
	require.NoError(t, err)
	require.Equal(t, int64(0), meta.Size)
}

func TestFSBackendRangeNotSatisfiable(t *testing.T) {
	// spec §8: Range: bytes=-100 on a 50-byte object -> 416, per spec choice.
	backend := blob.NewFSBackend(t.TempDir())
	ctx := context.Background()
	body := bytes.Repeat([]byte("x"), 50)
	_, err := backend.Write(ctx, "b", "f.txt", "v1", bytes.NewReader(body), "text/plain", "")
	require.NoError(t, err)

	res, err := backend.Read(ctx, "b", "f.txt", "v1", blob.ReadOptions{Range: &blob.ByteRange{Start: -100, End: -1}})
	require.NoError(t, err)
	require.Equal(t, blob.StatusRangeNotSatisfiable, res.Status)

	// a start beyond the object's size is unsatisfiable too.
	res2, err := backend.Read(ctx, "b", "f.txt", "v1", blob.ReadOptions{Range: &blob.ByteRange{Start: 1000, End: -1}})
	require.NoError(t, err)
	require.Equal(t, blob.StatusRangeNotSatisfiable, res2.Status)
}
