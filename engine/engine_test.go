// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/config"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/dagrider/wire"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func fourValidatorConfig() (*config.Config, []core.PublicKey) {
	members := make(map[uint32]committee.Member, 4)
	keys := make([]core.PublicKey, 4)
	for i := uint32(0); i < 4; i++ {
		key := ids.GenerateTestNodeID()
		keys[i] = key
		members[i] = committee.Member{ID: i, PublicKey: key, VertexAddress: "127.0.0.1:0"}
	}
	cmt := committee.New(members)
	return &config.Config{
		Committee:        cmt,
		MaxProposalDelay: 50 * time.Millisecond,
		SyncRetryDelay:   time.Second,
		SyncRetryNodes:   3,
	}, keys
}

func TestNewSeedsGenesisIntoStoreAndCommitter(t *testing.T) {
	require := require.New(t)
	cfg, _ := fourValidatorConfig()
	st := store.NewMemStore()
	net := transport.NewWSNetwork("node-0", nil)

	e, err := New(cfg, 0, st, net, nil, nil)
	require.NoError(err)

	for h := range cfg.Committee.Genesis() {
		_, ok, err := st.Read(context.Background(), h[:])
		require.NoError(err)
		require.True(ok, "every genesis vertex must be persisted at startup")
	}
	require.Equal(core.Round(0), e.committer.LastCommittedRound(), "genesis alone never commits anything")
}

func TestHandleInboundRoutesNewVertexToAggregator(t *testing.T) {
	require := require.New(t)
	cfg, keys := fourValidatorConfig()
	st := store.NewMemStore()
	net := transport.NewWSNetwork("node-0", nil)

	e, err := New(cfg, 0, st, net, nil, nil)
	require.NoError(err)

	genesis := cfg.Committee.Genesis()
	v := &core.Vertex{Owner: keys[1], Round: 2, Parents: map[core.VertexHash]core.ParentInfo{}}
	for h, g := range genesis {
		v.AddParent(h, g.Round, g.Timestamp)
	}
	v.ComputeHash()

	payload, err := json.Marshal(wire.NewVertexMessage(v))
	require.NoError(err)

	e.handleInbound("peer", payload)

	select {
	case got := <-e.incoming:
		require.Equal(v.Hash, got.Hash)
	default:
		t.Fatal("expected the decoded vertex on the incoming channel")
	}
}

// TestFourHonestValidatorsCommitRoundTwoLeader drives spec.md §8
// scenario 1 end to end: four full engines, each with its own
// MemStore, wired together by an in-process transport.LoopbackHub
// instead of real sockets, must independently commit the round-2
// leader once enough rounds have passed.
func TestFourHonestValidatorsCommitRoundTwoLeader(t *testing.T) {
	require := require.New(t)

	members := make(map[uint32]committee.Member, 4)
	addrs := make([]string, 4)
	for i := uint32(0); i < 4; i++ {
		addr := fmt.Sprintf("node-%d", i)
		addrs[i] = addr
		members[i] = committee.Member{ID: i, PublicKey: ids.GenerateTestNodeID(), VertexAddress: addr}
	}
	cmt := committee.New(members)

	hub := transport.NewLoopbackHub()
	engines := make([]*Engine, 4)
	for i := uint32(0); i < 4; i++ {
		cfg := &config.Config{
			Committee:        cmt,
			MaxProposalDelay: 20 * time.Millisecond,
			SyncRetryDelay:   200 * time.Millisecond,
			SyncRetryNodes:   3,
		}
		e, err := New(cfg, i, store.NewMemStore(), hub.Join(addrs[i]), nil, nil)
		require.NoError(err)
		engines[i] = e
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, e := range engines {
		e.Start(ctx)
	}
	defer func() {
		for _, e := range engines {
			e.Stop()
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		if engines[0].committer.LastCommittedRound() >= 2 {
			break
		}
		select {
		case <-engines[0].Deliver:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for the round-2 leader to commit")
		}
	}

	require.GreaterOrEqual(engines[0].committer.LastCommittedRound(), core.Round(2))
}

func TestHandleInboundDropsMalformedPayload(t *testing.T) {
	require := require.New(t)
	cfg, _ := fourValidatorConfig()
	st := store.NewMemStore()
	net := transport.NewWSNetwork("node-0", nil)

	e, err := New(cfg, 0, st, net, nil, nil)
	require.NoError(err)

	e.handleInbound("peer", []byte("not json"))

	select {
	case <-e.incoming:
		t.Fatal("malformed payload must not reach the aggregator")
	default:
	}
}
