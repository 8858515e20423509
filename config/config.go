// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"time"

	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/gc"
)

// Config holds everything a node needs to start a run: its own
// identity within the committee, the committee itself, storage
// location, and the tunables spec.md §4.3/§4.5 leave to the operator.
type Config struct {
	Self          uint32
	CommitteePath string
	StorePath     string

	MaxProposalDelay time.Duration
	// GCDeltaTime is filled in with gc.DefaultDeltaTime by Load. The
	// engine does not pass it on: the committer's garbage collector
	// always runs with gc.DefaultDeltaTime.
	GCDeltaTime    core.Timestamp
	SyncRetryDelay time.Duration
	SyncRetryNodes int

	Committee *committee.Committee
}

// DefaultMaxProposalDelay bounds how long a validator waits before
// proposing with whatever last_parents it has, even without
// can_proceed (spec.md §4.3).
const DefaultMaxProposalDelay = 500 * time.Millisecond

// DefaultSyncRetryDelay is how long the synchronizer waits before
// escalating a stalled parent request to a lucky broadcast.
const DefaultSyncRetryDelay = 2 * time.Second

// DefaultSyncRetryNodes is the fan-out of a retry's lucky broadcast.
const DefaultSyncRetryNodes = 3

// Load reads the committee file named by cfg.CommitteePath and
// resolves cfg.Self to its committee.Member, filling in defaults for
// any zero-valued tunable.
func Load(cfg *Config) error {
	cmt, err := LoadCommittee(cfg.CommitteePath)
	if err != nil {
		return err
	}
	if _, ok := cmt.Member(cfg.Self); !ok {
		return ErrMissingSelfID
	}
	cfg.Committee = cmt

	if cfg.MaxProposalDelay == 0 {
		cfg.MaxProposalDelay = DefaultMaxProposalDelay
	}
	if cfg.GCDeltaTime == 0 {
		cfg.GCDeltaTime = gc.DefaultDeltaTime
	}
	if cfg.SyncRetryDelay == 0 {
		cfg.SyncRetryDelay = DefaultSyncRetryDelay
	}
	if cfg.SyncRetryNodes == 0 {
		cfg.SyncRetryNodes = DefaultSyncRetryNodes
	}
	return nil
}
