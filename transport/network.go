// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport implements spec.md §6's Network API over
// websockets: a reliable sender with per-peer acknowledgement
// (Broadcast / BroadcastAndWait) and a simple fire-and-forget sender
// (Send / LuckyBroadcast), grounded on the miner-to-exchange
// Dial/ReadJSON/WriteJSON pattern.
package transport

import "context"

// CancelHandle resolves when the peer it was sent to acknowledges, or
// reports the send's failure. Callers of Broadcast get one per
// address.
type CancelHandle struct {
	result chan error
	cancel chan struct{}
	closed bool
}

func newCancelHandle() *CancelHandle {
	return &CancelHandle{result: make(chan error, 1), cancel: make(chan struct{})}
}

func (h *CancelHandle) resolve(err error) {
	select {
	case h.result <- err:
	default:
	}
}

// Cancel abandons the handle; a subsequent Wait returns context.Canceled.
func (h *CancelHandle) Cancel() {
	if h.closed {
		return
	}
	h.closed = true
	close(h.cancel)
}

// Wait blocks until the send is acknowledged, fails, is cancelled, or
// ctx is done.
func (h *CancelHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.result:
		return err
	case <-h.cancel:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Network is spec.md §6's transport collaborator.
type Network interface {
	// Broadcast sends payload to every address and returns one
	// CancelHandle per address, each resolving on that peer's ack.
	Broadcast(ctx context.Context, addresses []string, payload []byte) []*CancelHandle

	// BroadcastAndWait broadcasts and blocks until quorum acks arrive
	// or ctx is done, returning whether quorum was reached.
	BroadcastAndWait(ctx context.Context, addresses []string, payload []byte, quorum int) bool

	// Send is a fire-and-forget unicast.
	Send(ctx context.Context, address string, payload []byte) error

	// LuckyBroadcast fires payload at k randomly chosen addresses
	// without waiting for any acknowledgement.
	LuckyBroadcast(ctx context.Context, addresses []string, payload []byte, k int)
}

// MessageHandler is invoked for every inbound message an Endpoint
// delivers to this node.
type MessageHandler func(from string, payload []byte)

// Endpoint is a Network that can also receive: the engine's dependency
// on the transport layer is exactly this interface, satisfied by both
// WSNetwork (real websocket peers) and Loopback (in-process tests).
type Endpoint interface {
	Network
	SetHandler(MessageHandler)
}
