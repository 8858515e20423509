// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements spec.md §6's opaque key/value Store API:
// write, read, and notify_read ("wait until a key is first written").
// The aggregator uses it to persist serialized vertices by hash; the
// synchronizer uses notify_read to wait for missing parents without
// polling.
package store

import "context"

// Store is the external persistence collaborator spec.md §3/§6
// describes. Implementations must serialize writes per key and make
// NotifyRead resolve the instant a key is first written, even if the
// write happened before NotifyRead was called.
type Store interface {
	// Write durably associates value with key. Idempotent: writing the
	// same key twice with the same value is a no-op from the caller's
	// perspective.
	Write(ctx context.Context, key []byte, value []byte) error

	// Read returns the value for key, or ok=false if it has never been
	// written.
	Read(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// NotifyRead blocks until key is written, then returns its value.
	// If key is already present, it returns immediately. Cancelling ctx
	// unblocks it with ctx.Err().
	NotifyRead(ctx context.Context, key []byte) ([]byte, error)
}
