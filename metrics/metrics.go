// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the prometheus collectors shared across a
// node's aggregator, proposer, committer, synchronizer and garbage
// collector. It follows the struct-of-collectors-plus-constructor
// shape used throughout the wider consensus stack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the full set of counters and gauges one dagrider node
// exposes.
type Metrics struct {
	VerticesProcessed   prometheus.Counter
	VerticesRejected    prometheus.Counter
	VerticesEquivocated prometheus.Counter

	PendingParentRequests prometheus.Gauge
	RoundAdvance          prometheus.Gauge

	LeadersCommitted  prometheus.Counter
	VerticesDelivered prometheus.Counter
	CommitLatency     prometheus.Histogram

	VotesForLeader prometheus.Gauge
	NoVotes        prometheus.Gauge

	GCRound prometheus.Gauge
}

// New constructs and registers every collector. registerer may be nil
// in tests, in which case the collectors are created but left
// unregistered.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerticesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_vertices_processed_total",
			Help: "Number of vertices accepted into the local DAG.",
		}),
		VerticesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_vertices_rejected_total",
			Help: "Number of vertices rejected for failing validation.",
		}),
		VerticesEquivocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_vertices_equivocated_total",
			Help: "Number of vertices that replaced an earlier one from the same owner/round.",
		}),
		PendingParentRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagbft_pending_parent_requests",
			Help: "Number of vertices currently blocked on missing parents.",
		}),
		RoundAdvance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagbft_proposer_round",
			Help: "The proposer's current round.",
		}),
		LeadersCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_leaders_committed_total",
			Help: "Number of leader vertices committed.",
		}),
		VerticesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_vertices_delivered_total",
			Help: "Number of vertices delivered to the application in causal order.",
		}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dagbft_commit_latency_seconds",
			Help:    "Time between a leader vertex's creation and its commit.",
			Buckets: prometheus.DefBuckets,
		}),
		VotesForLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagbft_votes_for_leader",
			Help: "Votes for the most recently evaluated leader vertex in its validating round.",
		}),
		NoVotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagbft_no_votes",
			Help: "Vertices in the most recently evaluated validating round that did not vote for the leader.",
		}),
		GCRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagbft_gc_round",
			Help: "The garbage collector's current advisory round.",
		}),
	}

	if registerer == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.VerticesProcessed, m.VerticesRejected, m.VerticesEquivocated,
		m.PendingParentRequests, m.RoundAdvance,
		m.LeadersCommitted, m.VerticesDelivered, m.CommitLatency,
		m.VotesForLeader, m.NoVotes,
		m.GCRound,
	} {
		registerer.MustRegister(c)
	}
	return m
}
