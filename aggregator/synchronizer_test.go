// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct {
	mu            sync.Mutex
	sends         []string
	luckyAddrs    [][]string
	luckyPayloads [][]byte
}

func (f *fakeNetwork) Send(_ context.Context, address string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, address)
	return nil
}

func (f *fakeNetwork) Broadcast(context.Context, []string, []byte) []*transport.CancelHandle {
	return nil
}

func (f *fakeNetwork) BroadcastAndWait(context.Context, []string, []byte, int) bool {
	return false
}

func (f *fakeNetwork) LuckyBroadcast(_ context.Context, addresses []string, payload []byte, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.luckyAddrs = append(f.luckyAddrs, addresses)
	f.luckyPayloads = append(f.luckyPayloads, payload)
}

func newTestSynchronizer(t *testing.T) (*Synchronizer, *fakeNetwork, store.Store, chan *core.Vertex) {
	t.Helper()
	cmt, keys := fourValidatorCommittee()
	st := store.NewMemStore()
	net := &fakeNetwork{}
	loopback := make(chan *core.Vertex, 10)
	s := NewSynchronizer(keys[0], cmt, st, net, nil, 50*time.Millisecond, 3, loopback)
	return s, net, st, loopback
}

func TestHandleRequestsFromAuthorAndResolvesOnWrite(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, net, st, loopback := newTestSynchronizer(t)

	missingHash := ids.GenerateTestID()
	v := &core.Vertex{Owner: s.committee.Members()[1].PublicKey, Round: 3, Parents: map[core.VertexHash]core.ParentInfo{}}
	v.AddParent(missingHash, 2, 0)
	v.ComputeHash()

	s.Handle(ctx, SyncRequest{Missing: []core.VertexHash{missingHash}, Vertex: v})

	net.mu.Lock()
	require.Len(net.sends, 1)
	net.mu.Unlock()

	require.NoError(st.Write(ctx, missingHash[:], []byte("parent-bytes")))

	select {
	case got := <-loopback:
		require.Equal(v.Hash, got.Hash)
	case <-time.After(time.Second):
		t.Fatal("vertex was never re-delivered after its parent arrived")
	}
}

func TestHandleDropsDuplicatePending(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, net, _, _ := newTestSynchronizer(t)

	v := &core.Vertex{Owner: s.committee.Members()[1].PublicKey, Round: 3, Parents: map[core.VertexHash]core.ParentInfo{}}
	v.AddParent(ids.GenerateTestID(), 2, 0)
	v.ComputeHash()

	req := SyncRequest{Missing: v.StrongParents(), Vertex: v} // round mismatch irrelevant here
	req.Missing = []core.VertexHash{ids.GenerateTestID()}

	s.Handle(ctx, req)
	s.Handle(ctx, req)

	net.mu.Lock()
	defer net.mu.Unlock()
	require.Len(net.sends, 1, "a second SyncParentVertices for the same vertex hash must be dropped")
}

func TestEvictBeforeCancelsPendingAndNeverDelivers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, _, _, loopback := newTestSynchronizer(t)

	missingHash := ids.GenerateTestID()
	v := &core.Vertex{Owner: s.committee.Members()[1].PublicKey, Round: 3, Parents: map[core.VertexHash]core.ParentInfo{}}
	v.AddParent(missingHash, 2, 0)
	v.ComputeHash()

	s.Handle(ctx, SyncRequest{Missing: []core.VertexHash{missingHash}, Vertex: v})
	s.EvictBefore(3)

	s.mu.Lock()
	require.Empty(s.pending, "EvictBefore must drop the pending entry of a round at or below gcRound")
	s.mu.Unlock()

	select {
	case <-loopback:
		t.Fatal("a cancelled waiter must never deliver")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetryStaleLuckyBroadcastsAfterDelay(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, net, _, _ := newTestSynchronizer(t)

	missingHash := ids.GenerateTestID()
	v := &core.Vertex{Owner: s.committee.Members()[1].PublicKey, Round: 3, Parents: map[core.VertexHash]core.ParentInfo{}}
	v.AddParent(missingHash, 2, 0)
	v.ComputeHash()

	s.Handle(ctx, SyncRequest{Missing: []core.VertexHash{missingHash}, Vertex: v})

	s.retryStale(ctx, time.Now()) // immediately: nothing stale yet
	net.mu.Lock()
	require.Empty(net.luckyAddrs)
	net.mu.Unlock()

	s.retryStale(ctx, time.Now().Add(100*time.Millisecond)) // now past retryDelay
	net.mu.Lock()
	defer net.mu.Unlock()
	require.Len(net.luckyAddrs, 1)
	require.NotContains(net.luckyAddrs[0], "") // sanity: addresses populated
}
