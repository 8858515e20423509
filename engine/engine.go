// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine wires the aggregator, synchronizer, proposer,
// committer and garbage collector into the bounded-channel pipeline
// spec.md §5 describes, one goroutine per component.
package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/dagrider/aggregator"
	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/committer"
	"github.com/luxfi/dagrider/config"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/dagstate"
	"github.com/luxfi/dagrider/gc"
	"github.com/luxfi/dagrider/metrics"
	"github.com/luxfi/dagrider/proposer"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/dagrider/wire"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// chanCapacity is the bounded channel size used throughout the
// pipeline (spec.md §5's "bounded channels, nominally sized in the
// low thousands").
const chanCapacity = 1000

// Engine owns every per-node component and the channels connecting
// them. Deliver receives every committed vertex, in the committer's
// delivery order, for the embedding application. New always creates it
// with chanCapacity slots; once they are full the committer loop blocks
// until the application reads from it.
type Engine struct {
	self core.PublicKey
	cmt  *committee.Committee
	log  log.Logger
	met  *metrics.Metrics

	store store.Store
	net   transport.Endpoint

	dag          *dagstate.DAG
	broadcast    *gc.Broadcaster
	aggregator   *aggregator.Aggregator
	synchronizer *aggregator.Synchronizer
	proposer     *proposer.Proposer
	committer    *committer.Committer

	incoming       chan *core.Vertex
	toCommitter    chan *core.Vertex
	toProposer     chan aggregator.RoundQuorum
	toSynchronizer chan aggregator.SyncRequest

	maxProposalDelay time.Duration

	Deliver chan *core.Vertex

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New builds an Engine for the committee member whose id is self,
// backed by st and net.
// It does not start any goroutines; call Start for that.
func New(cfg *config.Config, self uint32, st store.Store, net transport.Endpoint, logger log.Logger, registerer prometheus.Registerer) (*Engine, error) {
	member, ok := cfg.Committee.Member(self)
	if !ok {
		return nil, config.ErrMissingSelfID
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	m := metrics.New(registerer)

	e := &Engine{
		self:             member.PublicKey,
		cmt:              cfg.Committee,
		log:              logger,
		met:              m,
		store:            st,
		net:              net,
		dag:              dagstate.New(registerer),
		broadcast:        gc.NewBroadcaster(),
		incoming:         make(chan *core.Vertex, chanCapacity),
		toCommitter:      make(chan *core.Vertex, chanCapacity),
		toProposer:       make(chan aggregator.RoundQuorum, chanCapacity),
		toSynchronizer:   make(chan aggregator.SyncRequest, chanCapacity),
		maxProposalDelay: cfg.MaxProposalDelay,
		Deliver:          make(chan *core.Vertex, chanCapacity),
		shutdownCh:       make(chan struct{}),
	}

	e.aggregator = aggregator.New(cfg.Committee, st, logger, m, e.toCommitter, e.toProposer, e.toSynchronizer)
	e.synchronizer = aggregator.NewSynchronizer(member.PublicKey, cfg.Committee, st, net, logger, cfg.SyncRetryDelay, cfg.SyncRetryNodes, e.incoming)
	e.committer = committer.New(e.dag, cfg.Committee, logger, e.broadcast, m)

	genesis := cfg.Committee.Genesis()
	e.proposer = proposer.New(member.PublicKey, cfg.Committee, net, logger, m, cfg.MaxProposalDelay, genesis)
	for _, v := range genesis {
		if err := st.Write(context.Background(), v.Hash[:], v.CanonicalBytes()); err != nil {
			return nil, err
		}
		e.committer.Process(v)
	}

	net.SetHandler(e.handleInbound)
	return e, nil
}

// ServeHTTP exposes the node's websocket vertex endpoint, when the
// configured transport.Endpoint is one that accepts connections (e.g.
// transport.WSNetwork; an in-process transport.Loopback has nothing to
// serve).
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, ok := e.net.(http.Handler)
	if !ok {
		http.Error(w, "engine: transport does not accept inbound connections", http.StatusNotImplemented)
		return
	}
	h.ServeHTTP(w, r)
}

// handleInbound decodes a wire.VertexMessage and routes it: new or
// unsync'd vertices feed the aggregator, requests are answered from
// the store.
func (e *Engine) handleInbound(from string, payload []byte) {
	var msg wire.VertexMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.log.Debug("engine: malformed inbound message", "from", from, "error", err)
		return
	}

	switch msg.Type {
	case wire.TypeNewVertex, wire.TypeUnSyncVertex:
		v, err := msg.Vertex.ToVertex()
		if err != nil {
			e.log.Warn("engine: rejecting vertex with bad hash", "from", from, "error", err)
			return
		}
		select {
		case e.incoming <- v:
		default:
			e.log.Warn("engine: incoming channel full, dropping vertex", "hash", v.Hash)
		}
	case wire.TypeVertexRequest:
		e.answerVertexRequest(msg.Request)
	}
}

func (e *Engine) answerVertexRequest(req *wire.VertexRequestPayload) {
	if req == nil {
		return
	}
	requester, ok := e.cmt.MemberByKey(req.Requester)
	if !ok {
		return
	}
	ctx := context.Background()
	for _, h := range req.Missing {
		raw, ok, err := e.store.Read(ctx, h[:])
		if err != nil || !ok {
			continue
		}
		v, err := core.DecodeCanonical(raw)
		if err != nil {
			e.log.Error("engine: corrupt stored vertex bytes", "hash", h, "error", err)
			continue
		}
		v.ComputeHash()
		payload, err := json.Marshal(wire.NewUnSyncVertexMessage(v))
		if err != nil {
			continue
		}
		if err := e.net.Send(ctx, requester.VertexAddress, payload); err != nil {
			e.log.Debug("engine: failed to answer vertex request", "error", err)
		}
	}
}

// Start launches one goroutine per pipeline stage.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(5)
	go e.aggregatorLoop(ctx)
	go func() {
		defer e.wg.Done()
		syncCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			select {
			case <-e.shutdownCh:
				stop()
			case <-syncCtx.Done():
			}
		}()
		e.synchronizer.Run(syncCtx, e.toSynchronizer)
	}()
	go e.committerLoop(ctx)
	go e.proposerLoop(ctx)
	go e.gcLoop(ctx)
	e.log.Info("engine started", "self", e.self, "committeeSize", e.cmt.Size())
}

// Stop signals every loop to exit and waits for them.
func (e *Engine) Stop() {
	close(e.shutdownCh)
	e.wg.Wait()
	e.log.Info("engine stopped")
}

func (e *Engine) aggregatorLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdownCh:
			return
		case v := <-e.incoming:
			if err := e.aggregator.Process(ctx, v); err != nil {
				e.log.Debug("engine: aggregator rejected vertex", "hash", v.Hash, "error", err)
			}
		}
	}
}

func (e *Engine) committerLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdownCh:
			return
		case v := <-e.toCommitter:
			delivered := e.committer.Process(v)
			for _, d := range delivered {
				e.met.VerticesDelivered.Inc()
				select {
				case e.Deliver <- d:
				case <-ctx.Done():
					return
				case <-e.shutdownCh:
					return
				}
			}
			if len(delivered) > 0 {
				e.met.LeadersCommitted.Inc()
				e.met.GCRound.Set(float64(e.committer.GCRound()))
			}
		}
	}
}

func (e *Engine) proposerLoop(ctx context.Context) {
	defer e.wg.Done()
	timer := time.NewTimer(e.maxProposalDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdownCh:
			return
		case q := <-e.toProposer:
			e.proposer.OnQuorum(q)
			if e.proposer.ShouldPropose(false) {
				e.propose(ctx, timer)
			}
		case <-timer.C:
			if e.proposer.ShouldPropose(true) {
				e.propose(ctx, timer)
			} else {
				timer.Reset(e.maxProposalDelay)
			}
		}
	}
}

func (e *Engine) propose(ctx context.Context, timer *time.Timer) {
	v, err := e.proposer.Propose(ctx, time.Now())
	if err != nil {
		e.log.Error("engine: failed to propose vertex", "error", err)
		timer.Reset(e.maxProposalDelay)
		return
	}
	select {
	case e.incoming <- v:
	case <-ctx.Done():
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(e.maxProposalDelay)
}

func (e *Engine) gcLoop(ctx context.Context) {
	defer e.wg.Done()
	rounds := e.broadcast.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdownCh:
			return
		case r := <-rounds:
			e.aggregator.EvictBefore(r)
			e.synchronizer.EvictBefore(r)
			e.proposer.EvictBefore(r)
		}
	}
}
