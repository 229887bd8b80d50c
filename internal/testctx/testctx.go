// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package testctx gives every test a cancellable context plus automatic
// temp-directory cleanup, grounded on the teacher's
// storj.io/common/testcontext.Context used pervasively across
// _teacher_ref/metabase_ref and _teacher_ref/buckets_ref.
package testctx

import (
	"context"
	"os"
	"testing"
)

// Context wraps a context.Context with test-scoped temp-dir helpers.
type Context struct {
	context.Context
	t       testing.TB
	tempDir string
}

// New returns a Context bound to t's Cleanup, cancelled when the test ends.
func New(t testing.TB) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Context{Context: ctx, t: t}
}

// Dir returns a fresh temp directory removed when the test ends.
func (c *Context) Dir(subdir ...string) string {
	if c.tempDir == "" {
		dir, err := os.MkdirTemp("", "vaultstorage-test-")
		if err != nil {
			c.t.Fatal(err)
		}
		c.tempDir = dir
		c.t.Cleanup(func() { _ = os.RemoveAll(dir) })
	}
	path := c.tempDir
	for _, s := range subdir {
		path = path + string(os.PathSeparator) + s
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		c.t.Fatal(err)
	}
	return path
}

// Check fails the test immediately if err != nil, mirroring the teacher's
// `require.NoError(t, err)` idiom for helper call sites that don't already
// have *testing.T in scope.
func (c *Context) Check(err error) {
	if err != nil {
		c.t.Fatal(err)
	}
}
