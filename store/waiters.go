// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import "sync"

// waiters implements the notify_read half of Store for any backend:
// callers register a channel under a key and are notified exactly
// once, the instant that key is written. It holds no data itself —
// the backend still owns reads/writes — only the wake-up plumbing.
type waiters struct {
	mu      sync.Mutex
	pending map[string][]chan []byte
}

func newWaiters() *waiters {
	return &waiters{pending: make(map[string][]chan []byte)}
}

// register returns a channel that receives value exactly once, the
// next time notify(key, ...) is called.
func (w *waiters) register(key []byte) <-chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan []byte, 1)
	k := string(key)
	w.pending[k] = append(w.pending[k], ch)
	return ch
}

// notify wakes every channel registered for key with value.
func (w *waiters) notify(key []byte, value []byte) {
	w.mu.Lock()
	chans := w.pending[string(key)]
	delete(w.pending, string(key))
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- value
	}
}
