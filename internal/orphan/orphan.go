// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package orphan implements C7, the catalog/backend reconciliation
// scanner (spec §4.7): it finds objects the blob backend holds that the
// catalog has forgotten ("s3Orphans") and catalog rows whose backend
// bytes have gone missing ("dbOrphans"), and can delete either side in
// batches.
package orphan

import (
	"context"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/metadata"
)

// Error is the class of all orphan package errors.
var Error = errs.Class("orphan")

// Side identifies which of the two stores an orphan was found on.
type Side string

// Side values.
const (
	SideS3 Side = "s3"
	SideDB Side = "db"
)

// Finding is a single orphaned key, emitted as soon as it is discovered so
// a caller can stream results without buffering the whole scan (spec §4.7
// "paged NDJSON-style lazy emission").
type Finding struct {
	Side     Side
	BucketID string
	Key      string
	Version  string
}

// Ping is emitted periodically during a long scan so a caller streaming
// results over an idle connection has something to flush (spec §4.7
// "periodic pings").
type Ping struct {
	ScannedBackend int
	ScannedCatalog int
}

// Event is either a Finding or a Ping, sent on ListOrphaned's channel.
type Event struct {
	Finding *Finding
	Ping    *Ping
}

// Scanner is C7, wired against one tenant's catalog and blob backend.
type Scanner struct {
	log          *zap.Logger
	store        *metadata.Store
	backend      blob.Backend
	globalBucket string
	sep          string
	pageSize     int
	pingEvery    time.Duration
}

// New constructs a Scanner. pageSize bounds how many keys are loaded into
// the reconciliation temp table per round; pingEvery bounds how long a
// caller can go without an Event.
func New(log *zap.Logger, store *metadata.Store, backend blob.Backend, globalBucket string, pageSize int, pingEvery time.Duration) *Scanner {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if pingEvery <= 0 {
		pingEvery = 5 * time.Second
	}
	return &Scanner{log: log, store: store, backend: backend, globalBucket: globalBucket, sep: "-$v-", pageSize: pageSize, pingEvery: pingEvery}
}

// ListOrphaned streams s3Orphans and dbOrphans for tenantID/bucketName
// on the returned channel, closing it when the scan completes or ctx ends
// (spec §4.7 listOrphaned).
func (s *Scanner) ListOrphaned(ctx context.Context, tenantID, bucketID, bucketName string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		s.scan(ctx, tenantID, bucketID, bucketName, out)
	}()
	return out
}

func (s *Scanner) scan(ctx context.Context, tenantID, bucketID, bucketName string, out chan<- Event) {
	lastPing := time.Now()
	maybePing := func(scannedBackend, scannedCatalog int) bool {
		if time.Since(lastPing) < s.pingEvery {
			return true
		}
		lastPing = time.Now()
		select {
		case out <- Event{Ping: &Ping{ScannedBackend: scannedBackend, ScannedCatalog: scannedCatalog}}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Phase 1: page the blob backend, collecting every key it holds for
	// phase 2's anti-join, and look each key's object name up in the
	// catalog with GetObject; a key with no catalog row is an s3Orphan.
	var backendKeys []string
	var nextToken string
	scannedBackend := 0
	for {
		page, err := s.backend.List(ctx, s.globalBucket, blob.ListOptions{Prefix: tenantID + "/" + bucketName + "/", NextToken: nextToken})
		if err != nil {
			s.log.Warn("orphan scan: backend list failed", zap.Error(err))
			return
		}
		for _, e := range page.Entries {
			if e.IsPrefix {
				continue
			}
			scannedBackend++
			name, version := s.splitVersion(e.Key)
			backendKeys = append(backendKeys, bucketID+"/"+name+"/"+version)
			if found, err := s.objectExists(ctx, tenantID, bucketID, name); err == nil && !found {
				select {
				case out <- Event{Finding: &Finding{Side: SideS3, BucketID: bucketID, Key: e.Key}}:
				case <-ctx.Done():
					return
				}
			}
		}
		if !maybePing(scannedBackend, 0) {
			return
		}
		if page.NextToken == "" {
			break
		}
		nextToken = page.NextToken
	}

	// Phase 2: page the catalog and anti-join against the accumulated
	// backend key set (spec §4.7 "temp-table left-anti-join ... dbOrphans").
	scannedCatalog := 0
	afterName := ""
	for {
		var dbOrphans []metadata.BackendKey
		pageLen := 0
		err := s.store.AsSuperUser(ctx, tenantID, func(ctx context.Context, tx *metadata.Tx) error {
			keys, err := tx.ListAllObjectKeys(ctx, afterName, s.pageSize)
			if err != nil {
				return err
			}
			pageLen = len(keys)
			if pageLen == 0 {
				return nil
			}
			afterName = keys[pageLen-1].Key
			dbOrphans, err = tx.ReconcileBackendKeys(ctx, backendKeys)
			return err
		})
		if err != nil {
			s.log.Warn("orphan scan: catalog reconcile failed", zap.Error(err))
			return
		}
		scannedCatalog += pageLen

		for _, o := range dbOrphans {
			if o.BucketID != bucketID {
				continue
			}
			select {
			case out <- Event{Finding: &Finding{Side: SideDB, BucketID: o.BucketID, Key: o.Key, Version: o.Version}}:
			case <-ctx.Done():
				return
			}
		}
		if !maybePing(scannedBackend, scannedCatalog) {
			return
		}
		if pageLen < s.pageSize {
			break
		}
	}
}

func (s *Scanner) objectExists(ctx context.Context, tenantID, bucketID, name string) (bool, error) {
	var exists bool
	err := s.store.AsSuperUser(ctx, tenantID, func(ctx context.Context, tx *metadata.Tx) error {
		_, err := tx.GetObject(ctx, bucketID, name, metadata.LockNone)
		if err == nil {
			exists = true
			return nil
		}
		return nil
	})
	return exists, err
}

// splitVersion splits a backend key (tenant/bucket/object<sep>version)
// into its object name and version, undoing blob.WithVersion.
func (s *Scanner) splitVersion(backendKey string) (name, version string) {
	parts := strings.SplitN(backendKey, "/", 3)
	if len(parts) != 3 {
		return backendKey, ""
	}
	rest := parts[2]
	idx := strings.LastIndex(rest, s.sep)
	if idx < 0 {
		return rest, ""
	}
	return rest[:idx], rest[idx+len(s.sep):]
}

// DeleteOrphans removes the given findings in batches of batchSize,
// stopping early if ctx is cancelled (spec §4.7 deleteOrphans). s3Orphans
// are removed from the blob backend; dbOrphans are removed from the
// catalog, since their bytes are already gone.
func (s *Scanner) DeleteOrphans(ctx context.Context, tenantID, bucketName string, findings []Finding, batchSize int) (deleted int, err error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var s3Keys []string
	var dbKeys []metadata.BackendKey
	for _, f := range findings {
		switch f.Side {
		case SideS3:
			s3Keys = append(s3Keys, f.Key)
		case SideDB:
			dbKeys = append(dbKeys, metadata.BackendKey{BucketID: f.BucketID, Key: f.Key, Version: f.Version})
		}
	}

	for i := 0; i < len(s3Keys); i += batchSize {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		end := min(i+batchSize, len(s3Keys))
		if err := s.backend.RemoveMany(ctx, s.globalBucket, s3Keys[i:end]); err != nil {
			return deleted, Error.Wrap(err)
		}
		deleted += end - i
	}

	for i := 0; i < len(dbKeys); i += batchSize {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		end := min(i+batchSize, len(dbKeys))
		batch := dbKeys[i:end]
		err := s.store.AsSuperUser(ctx, tenantID, func(ctx context.Context, tx *metadata.Tx) error {
			for _, k := range batch {
				if _, err := tx.DeleteObject(ctx, k.BucketID, k.Key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted += len(batch)
	}
	return deleted, nil
}
