// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/luxfi/dagrider/utils/sampler"
)

// ErrPeerUnreachable is returned when a Loopback send targets an
// address no node has joined to the hub.
var ErrPeerUnreachable = errors.New("transport: peer unreachable")

// LoopbackHub wires a set of in-process Loopback endpoints together by
// address, so a multi-node scenario test can exercise the real
// aggregator/proposer/committer pipeline without a network, the way
// the corpus's sender/sendertest pair provides an in-memory double for
// its own sender interface.
type LoopbackHub struct {
	mu    sync.Mutex
	peers map[string]*Loopback
}

// NewLoopbackHub creates an empty hub. Register every node's Loopback
// with Join before any of them send.
func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{peers: make(map[string]*Loopback)}
}

// Join registers addr's Loopback with the hub and returns it.
func (h *LoopbackHub) Join(addr string) *Loopback {
	l := &Loopback{hub: h, self: addr}
	h.mu.Lock()
	h.peers[addr] = l
	h.mu.Unlock()
	return l
}

func (h *LoopbackHub) deliver(addr string, from string, payload []byte) bool {
	h.mu.Lock()
	peer, ok := h.peers[addr]
	h.mu.Unlock()
	if !ok {
		return false
	}
	peer.mu.Lock()
	handler := peer.handler
	peer.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(from, payload)
	return true
}

// Loopback is an Endpoint that delivers directly to other Loopback
// instances registered on the same LoopbackHub, synchronously and
// in-process. It acknowledges every send immediately, since there is
// no real network round trip to wait on.
type Loopback struct {
	hub  *LoopbackHub
	self string

	mu      sync.Mutex
	handler MessageHandler
}

// SetHandler installs the callback invoked for inbound messages.
func (l *Loopback) SetHandler(h MessageHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Broadcast delivers payload to every address synchronously and
// returns a CancelHandle per address, already resolved.
func (l *Loopback) Broadcast(ctx context.Context, addresses []string, payload []byte) []*CancelHandle {
	handles := make([]*CancelHandle, len(addresses))
	for i, addr := range addresses {
		h := newCancelHandle()
		if l.hub.deliver(addr, l.self, payload) {
			h.resolve(nil)
		} else {
			h.resolve(ErrPeerUnreachable)
		}
		handles[i] = h
	}
	return handles
}

// BroadcastAndWait delivers to every address and reports whether at
// least quorum of them were reachable.
func (l *Loopback) BroadcastAndWait(ctx context.Context, addresses []string, payload []byte, quorum int) bool {
	acked := 0
	for _, addr := range addresses {
		if l.hub.deliver(addr, l.self, payload) {
			acked++
		}
	}
	return acked >= quorum
}

// Send delivers payload to a single address.
func (l *Loopback) Send(ctx context.Context, address string, payload []byte) error {
	if !l.hub.deliver(address, l.self, payload) {
		return ErrPeerUnreachable
	}
	return nil
}

// LuckyBroadcast delivers payload to k randomly chosen addresses.
func (l *Loopback) LuckyBroadcast(ctx context.Context, addresses []string, payload []byte, k int) {
	if k <= 0 || len(addresses) == 0 {
		return
	}
	if k > len(addresses) {
		k = len(addresses)
	}

	u := sampler.NewUniform()
	if err := u.Initialize(len(addresses)); err != nil {
		return
	}
	indices, ok := u.Sample(k)
	if !ok {
		return
	}
	for _, idx := range indices {
		l.hub.deliver(addresses[idx], l.self, payload)
	}
}
