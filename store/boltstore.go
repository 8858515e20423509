// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketVertices = []byte("vertices_by_hash")

// BoltStore is the disk-backed Store, one bbolt database per node
// (spec.md §6's CLI `--store=<path>` flag names this file).
type BoltStore struct {
	db      *bolt.DB
	waiters *waiters
}

// OpenBoltStore opens (creating if absent) the bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVertices)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &BoltStore{db: db, waiters: newWaiters()}, nil
}

// Close releases the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Write(_ context.Context, key, value []byte) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVertices).Put(key, value)
	}); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	s.waiters.notify(key, value)
	return nil
}

func (s *BoltStore) Read(_ context.Context, key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketVertices).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: read: %w", err)
	}
	return out, out != nil, nil
}

func (s *BoltStore) NotifyRead(ctx context.Context, key []byte) ([]byte, error) {
	if v, ok, err := s.Read(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	ch := s.waiters.register(key)

	if v, ok, err := s.Read(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
