// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gc

import (
	"sync"

	"github.com/luxfi/dagrider/core"
)

// Broadcaster fans the committer's monotonically advancing gc_round
// out to every subscriber that wants to evict state below it (the
// aggregator and the synchronizer, per spec.md §4.5). Each subscriber
// channel holds only the latest round: a slow subscriber never blocks
// the committer, and never sees a value older than the one it already
// has queued.
type Broadcaster struct {
	mu   sync.Mutex
	subs []chan core.Round
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a new listener and returns its channel.
func (b *Broadcaster) Subscribe() <-chan core.Round {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan core.Round, 1)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish sends round to every subscriber, replacing any value a slow
// subscriber hasn't yet consumed.
func (b *Broadcaster) Publish(round core.Round) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- round:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- round
		}
	}
}
