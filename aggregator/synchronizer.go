// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/dagrider/wire"
	"github.com/luxfi/log"
)

// SyncRequest is dispatched by the aggregator when a vertex references
// parents the local store doesn't have yet (spec.md §4.2).
type SyncRequest struct {
	Missing []core.VertexHash
	Vertex  *core.Vertex
}

type pendingEntry struct {
	round  core.Round
	cancel chan struct{}
}

type parentRequestEntry struct {
	round       core.Round
	requestedAt time.Time
}

// Synchronizer resolves missing parents by pulling them from peers and
// re-delivers the dependent vertex to the aggregator once satisfied.
// It owns pending/parent_requests exclusively.
type Synchronizer struct {
	self      core.PublicKey
	committee *committee.Committee
	store     store.Store
	net       transport.Network
	log       log.Logger

	retryDelay time.Duration
	retryNodes int

	loopback chan<- *core.Vertex

	mu             sync.Mutex
	pending        map[core.VertexHash]*pendingEntry
	parentRequests map[core.VertexHash]*parentRequestEntry
}

// NewSynchronizer builds a Synchronizer. loopback is the aggregator's
// inbound vertex channel; a satisfied vertex is re-sent there.
func NewSynchronizer(
	self core.PublicKey,
	cmt *committee.Committee,
	st store.Store,
	net transport.Network,
	logger log.Logger,
	retryDelay time.Duration,
	retryNodes int,
	loopback chan<- *core.Vertex,
) *Synchronizer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Synchronizer{
		self:           self,
		committee:      cmt,
		store:          st,
		net:            net,
		log:            logger,
		retryDelay:     retryDelay,
		retryNodes:     retryNodes,
		loopback:       loopback,
		pending:        make(map[core.VertexHash]*pendingEntry),
		parentRequests: make(map[core.VertexHash]*parentRequestEntry),
	}
}

// Run drains requests off the channel and ticks the retry sweep until
// ctx is done, following the goroutine-per-loop shape used throughout
// the engine.
func (s *Synchronizer) Run(ctx context.Context, requests <-chan SyncRequest) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			s.Handle(ctx, req)
		case now := <-ticker.C:
			s.retryStale(ctx, now)
		}
	}
}

// Handle implements spec.md §4.2's SyncParentVertices command.
func (s *Synchronizer) Handle(ctx context.Context, req SyncRequest) {
	s.mu.Lock()
	if _, alreadyPending := s.pending[req.Vertex.Hash]; alreadyPending {
		s.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	s.pending[req.Vertex.Hash] = &pendingEntry{round: req.Vertex.Round, cancel: cancel}
	now := time.Now()
	for _, h := range req.Missing {
		if _, exists := s.parentRequests[h]; !exists {
			s.parentRequests[h] = &parentRequestEntry{round: req.Vertex.Round, requestedAt: now}
		}
	}
	s.mu.Unlock()

	go s.waitForParents(ctx, req, cancel)
	s.requestFrom(ctx, req.Vertex.Owner, req.Missing)
}

func (s *Synchronizer) requestFrom(ctx context.Context, author core.PublicKey, missing []core.VertexHash) {
	member, ok := s.committee.MemberByKey(author)
	if !ok {
		return
	}
	payload, err := json.Marshal(wire.NewVertexRequestMessage(missing, s.self))
	if err != nil {
		s.log.Error("synchronizer: marshal vertex request failed", "error", err)
		return
	}
	if err := s.net.Send(ctx, member.VertexAddress, payload); err != nil {
		s.log.Debug("synchronizer: request to author failed", "author", author, "error", err)
	}
}

// waitForParents blocks until every missing hash is readable in the
// store or cancel fires, then re-delivers the dependent vertex.
func (s *Synchronizer) waitForParents(ctx context.Context, req SyncRequest, cancel <-chan struct{}) {
	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-waitCtx.Done():
		}
	}()

	for _, h := range req.Missing {
		if _, err := s.store.NotifyRead(waitCtx, h[:]); err != nil {
			return
		}
	}

	s.mu.Lock()
	if _, ok := s.pending[req.Vertex.Hash]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, req.Vertex.Hash)
	for _, h := range req.Missing {
		delete(s.parentRequests, h)
	}
	s.mu.Unlock()

	select {
	case s.loopback <- req.Vertex:
	case <-ctx.Done():
	}
}

// retryStale re-requests, by lucky broadcast, every parent request
// older than retryDelay.
func (s *Synchronizer) retryStale(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var stale []core.VertexHash
	for h, entry := range s.parentRequests {
		if now.Sub(entry.requestedAt) > s.retryDelay {
			stale = append(stale, h)
			entry.requestedAt = now
		}
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	payload, err := json.Marshal(wire.NewVertexRequestMessage(stale, s.self))
	if err != nil {
		s.log.Error("synchronizer: marshal retry request failed", "error", err)
		return
	}

	addresses := s.peerAddresses()
	s.net.LuckyBroadcast(ctx, addresses, payload, s.retryNodes)
}

func (s *Synchronizer) peerAddresses() []string {
	members := s.committee.Members()
	addresses := make([]string, 0, len(members))
	for _, m := range members {
		if m.PublicKey == s.self {
			continue
		}
		addresses = append(addresses, m.VertexAddress)
	}
	return addresses
}

// EvictBefore cancels and drops pending/parent-request entries whose
// recorded round ≤ gcRound (spec.md §4.2).
func (s *Synchronizer) EvictBefore(gcRound core.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, entry := range s.pending {
		if entry.round <= gcRound {
			close(entry.cancel)
			delete(s.pending, h)
		}
	}
	for h, entry := range s.parentRequests {
		if entry.round <= gcRound {
			delete(s.parentRequests, h)
		}
	}
}
