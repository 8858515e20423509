// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/dagrider/config"
	"github.com/luxfi/dagrider/engine"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		id            uint32
		committeePath string
		storePath     string
		metricsAddr   string
		maxDelay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one validator of the committee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), id, committeePath, storePath, metricsAddr, maxDelay)
		},
	}

	cmd.Flags().Uint32Var(&id, "id", 0, "this validator's numeric id within the committee file")
	cmd.Flags().StringVar(&committeePath, "committee", "", "path to the committee.json file")
	cmd.Flags().StringVar(&storePath, "store", "", "path to the bbolt store file (empty uses an in-memory store)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	cmd.Flags().DurationVar(&maxDelay, "max-proposal-delay", 0, "cap on how long to wait for can_proceed before proposing anyway")
	_ = cmd.MarkFlagRequired("committee")

	return cmd
}

func runNode(ctx context.Context, id uint32, committeePath, storePath, metricsAddr string, maxDelay time.Duration) error {
	cfg := &config.Config{Self: id, CommitteePath: committeePath, MaxProposalDelay: maxDelay}
	if err := config.Load(cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.NewLogger(fmt.Sprintf("dagrider-%d", id))

	st, closeStore, err := openStore(storePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	member, ok := cfg.Committee.Member(id)
	if !ok {
		return config.ErrMissingSelfID
	}

	registerer := prometheus.NewRegistry()
	net := transport.NewWSNetwork(member.VertexAddress, logger)

	e, err := engine.New(cfg, id, st, net, logger, registerer)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.Start(runCtx)
	defer e.Stop()

	mux := http.NewServeMux()
	mux.Handle("/vertex", e)
	if metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
		defer metricsServer.Close()
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dagrider: metrics server stopped", "error", err)
			}
		}()
	}
	server := &http.Server{Addr: member.VertexAddress, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("dagrider: vertex server stopped", "error", err)
		}
	}()

	go logDelivered(runCtx, e, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(path string) (store.Store, func(), error) {
	if path == "" {
		return store.NewMemStore(), func() {}, nil
	}
	bolt, err := store.OpenBoltStore(path)
	if err != nil {
		return nil, nil, err
	}
	return bolt, func() { _ = bolt.Close() }, nil
}

func logDelivered(ctx context.Context, e *engine.Engine, logger log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-e.Deliver:
			logger.Info("delivered vertex", "hash", v.Hash, "round", v.Round, "owner", v.Owner)
		}
	}
}
