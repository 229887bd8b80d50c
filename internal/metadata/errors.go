// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/zeebo/errs"

	"storj.io/vaultstorage/internal/errs2"
)

// Error is the class of all metadata package errors.
var Error = errs.Class("metadata")

// normalize converts a database/sql or lib/pq error into the closed error
// kind set from spec §7, so callers never branch on driver-specific error
// shapes.
func normalize(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs2.New(errs2.KindNoSuchKey, resource, "no matching row")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return errs2.Wrap(errs2.KindResourceAlreadyExists, resource, err)
		case "lock_not_available":
			return errs2.Wrap(errs2.KindResourceLocked, resource, err)
		case "query_canceled", "statement_timeout":
			return errs2.Wrap(errs2.KindDatabaseTimeout, resource, err)
		}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return errs2.Wrap(errs2.KindDatabaseTimeout, resource, err)
	}
	return errs2.Wrap(errs2.KindDatabaseError, resource, err)
}
