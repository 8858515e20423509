// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/luxfi/dagrider/utils/sampler"
	"github.com/luxfi/log"
)

// envelope is the frame every peer connection exchanges: either a
// fresh message carrying Payload, or an Ack echoing back the ID of one
// that was received.
type envelope struct {
	ID      string `json:"id"`
	Ack     bool   `json:"ack,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// WSNetwork is the websocket-backed Network. Connections are dialed
// lazily and kept open; a dead connection is dropped and redialed on
// the next send.
type WSNetwork struct {
	log     log.Logger
	nextID  atomic.Uint64
	self    string
	handler MessageHandler

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	pending map[string]*CancelHandle

	upgrader websocket.Upgrader
}

// NewWSNetwork creates a transport identified as self (used only to
// make outgoing envelope ids unique across nodes).
func NewWSNetwork(self string, logger log.Logger) *WSNetwork {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &WSNetwork{
		log:     logger,
		self:    self,
		conns:   make(map[string]*websocket.Conn),
		pending: make(map[string]*CancelHandle),
	}
}

// SetHandler installs the callback invoked for inbound application
// messages (wired to the aggregator's vertex-message dispatch).
func (n *WSNetwork) SetHandler(h MessageHandler) {
	n.handler = h
}

// ServeHTTP upgrades an incoming connection from a peer and starts its
// read loop. Mount this at the node's vertex address.
func (n *WSNetwork) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn("transport: upgrade failed", "error", err)
		return
	}
	go n.readLoop(r.RemoteAddr, conn)
}

func (n *WSNetwork) dial(address string) (*websocket.Conn, error) {
	n.mu.Lock()
	if conn, ok := n.conns[address]; ok {
		n.mu.Unlock()
		return conn, nil
	}
	n.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+address, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}

	n.mu.Lock()
	n.conns[address] = conn
	n.mu.Unlock()

	go n.readLoop(address, conn)
	return conn, nil
}

func (n *WSNetwork) dropConn(address string) {
	n.mu.Lock()
	delete(n.conns, address)
	n.mu.Unlock()
}

func (n *WSNetwork) readLoop(address string, conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			n.log.Debug("transport: peer connection closed", "address", address, "error", err)
			n.dropConn(address)
			return
		}

		if env.Ack {
			n.mu.Lock()
			h, ok := n.pending[env.ID]
			delete(n.pending, env.ID)
			n.mu.Unlock()
			if ok {
				h.resolve(nil)
			}
			continue
		}

		if n.handler != nil {
			n.handler(address, env.Payload)
		}
		if err := conn.WriteJSON(envelope{ID: env.ID, Ack: true}); err != nil {
			n.log.Warn("transport: ack write failed", "address", address, "error", err)
		}
	}
}

func (n *WSNetwork) newEnvelopeID() string {
	return n.self + "-" + strconv.FormatUint(n.nextID.Add(1), 10)
}

// Send is a fire-and-forget unicast; it does not wait for an ack.
func (n *WSNetwork) Send(_ context.Context, address string, payload []byte) error {
	conn, err := n.dial(address)
	if err != nil {
		return err
	}
	return conn.WriteJSON(envelope{ID: n.newEnvelopeID(), Payload: payload})
}

// Broadcast sends payload to every address concurrently, returning one
// CancelHandle per address in input order.
func (n *WSNetwork) Broadcast(_ context.Context, addresses []string, payload []byte) []*CancelHandle {
	handles := make([]*CancelHandle, len(addresses))
	for i, address := range addresses {
		h := newCancelHandle()
		handles[i] = h
		go n.sendTracked(address, payload, h)
	}
	return handles
}

func (n *WSNetwork) sendTracked(address string, payload []byte, h *CancelHandle) {
	conn, err := n.dial(address)
	if err != nil {
		h.resolve(err)
		return
	}
	id := n.newEnvelopeID()
	n.mu.Lock()
	n.pending[id] = h
	n.mu.Unlock()

	if err := conn.WriteJSON(envelope{ID: id, Payload: payload}); err != nil {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
		h.resolve(err)
	}
}

// BroadcastAndWait broadcasts and blocks until quorum acks land or ctx
// expires, whichever comes first.
func (n *WSNetwork) BroadcastAndWait(ctx context.Context, addresses []string, payload []byte, quorum int) bool {
	handles := n.Broadcast(ctx, addresses, payload)
	results := make(chan error, len(handles))
	for _, h := range handles {
		go func(h *CancelHandle) { results <- h.Wait(ctx) }(h)
	}

	acked := 0
	for range handles {
		select {
		case err := <-results:
			if err == nil {
				acked++
				if acked >= quorum {
					return true
				}
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// LuckyBroadcast fires payload at k uniformly random addresses without
// waiting for any response.
func (n *WSNetwork) LuckyBroadcast(ctx context.Context, addresses []string, payload []byte, k int) {
	if k <= 0 || len(addresses) == 0 {
		return
	}
	if k > len(addresses) {
		k = len(addresses)
	}

	s := sampler.NewUniform()
	if err := s.Initialize(len(addresses)); err != nil {
		return
	}
	indices, ok := s.Sample(k)
	if !ok {
		return
	}
	for _, idx := range indices {
		go func(address string) {
			if err := n.Send(ctx, address, payload); err != nil {
				n.log.Debug("transport: lucky broadcast send failed", "address", address, "error", err)
			}
		}(addresses[idx])
	}
}
