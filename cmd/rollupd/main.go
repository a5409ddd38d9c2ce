// Copyright 2024 The rollstack authors
// This file is part of the rollstack library.
//
// The rollstack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The rollstack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the rollstack library. If not, see <http://www.gnu.org/licenses/>.

// Command rollupd runs the rollup core: storage manager, kernel, DA client,
// slot execution pipeline and RPC surfaces wired together from a TOML config
// file, in the vein of the teacher's own geth binary.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/rollstack/core/core/da"
	"github.com/rollstack/core/core/da/mockda"
	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/ledger"
	"github.com/rollstack/core/core/proof"
	"github.com/rollstack/core/core/runner"
	"github.com/rollstack/core/core/stf"
	"github.com/rollstack/core/core/storage"
	"github.com/rollstack/core/core/txbackend"
	"github.com/rollstack/core/internal/config"
	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/kvstore"
	"github.com/rollstack/core/internal/metrics/influxdb"
	"github.com/rollstack/core/rpc"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the node's TOML configuration file",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory holding the LevelDB state/ledger stores",
		Value: "./rollupd-data",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity: 0=crit .. 5=trace",
		Value: int(glog.LvlInfo),
	}
	influxAddrFlag = cli.StringFlag{
		Name:  "metrics.influxdb",
		Usage: "InfluxDB endpoint to push metrics to (disabled if empty)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "rollupd"
	app.Usage = "run the modular rollup core"
	app.Flags = []cli.Flag{configFlag, dataDirFlag, verbosityFlag, influxAddrFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rollupd:", err)
		os.Exit(1)
	}
}

// decodePreferredPayload reads a preferred sequencer's blob as a fixed
// 16-byte header (sequence number, slots-to-advance) followed by the
// opaque module payload; the real wire format is a concrete-module
// concern out of scope for the core.
func decodePreferredPayload(raw []byte) (*kernel.PreferredPayload, error) {
	if len(raw) < 16 {
		return nil, fmt.Errorf("rollupd: preferred payload too short: %d bytes", len(raw))
	}
	return &kernel.PreferredPayload{
		SequenceNumber: binary.BigEndian.Uint64(raw[0:8]),
		SlotsToAdvance: binary.BigEndian.Uint64(raw[8:16]),
		Payload:        raw[16:],
	}, nil
}

func run(ctx *cli.Context) error {
	glog.SetVerbosity(glog.Lvl(ctx.Int(verbosityFlag.Name)))
	log := glog.New("component", "rollupd")

	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("rollupd: load config: %w", err)
		}
		cfg = loaded
	}

	if addr := ctx.String(influxAddrFlag.Name); addr != "" {
		reporter, err := influxdb.New(influxdb.Config{
			Addr:     addr,
			Database: "rollupd",
			Interval: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("rollupd: influxdb reporter: %w", err)
		}
		bgCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go reporter.Run(bgCtx)
	}

	kv, err := kvstore.Open(ctx.String(dataDirFlag.Name))
	if err != nil {
		return fmt.Errorf("rollupd: open store: %w", err)
	}
	defer kv.Close()

	storageMgr := storage.New(kv)
	ledgerStore := ledger.New(ledger.Config{
		MaxSlotsPerRequest:        cfg.Ledger.MaxSlotsPerRequest,
		MaxBatchesPerRequest:      cfg.Ledger.MaxBatchesPerRequest,
		MaxTransactionsPerRequest: cfg.Ledger.MaxTransactionsPerRequest,
		MaxEventsPerRequest:       cfg.Ledger.MaxEventsPerRequest,
	}, kv)

	registry := txbackend.NewMemoryRegistry()
	k, err := kernel.New(kernel.Config{
		DeferredSlotsCount:       cfg.Kernel.DeferredSlotsCount,
		UnregisteredBlobsPerSlot: cfg.Kernel.UnregisteredBlobsPerSlot,
		BlobsPerSlotEstimate:     32,
	}, registry, decodePreferredPayload)
	if err != nil {
		return fmt.Errorf("rollupd: build kernel: %w", err)
	}

	var daClient da.Client = mockda.New()
	daClient = da.NewRetryingClient(daClient, da.DefaultRetryConfig())

	r := runner.New(runner.Config{
		GenesisHeight:       cfg.Runner.GenesisHeight,
		DAPollingIntervalMS: cfg.Runner.DAPollingIntervalMS,
	}, storageMgr, k, daClient, stf.New(), proof.NoopManager{}, ledgerStore)

	restServer := rpc.NewServer(ledgerStore)
	mux := http.NewServeMux()
	mux.Handle("/v1/", restServer.Router())
	gql, err := rpc.NewGraphQLHandler(ledgerStore)
	if err != nil {
		return fmt.Errorf("rollupd: build graphql schema: %w", err)
	}
	mux.Handle("/graphql", gql)
	mux.Handle("/v1/watch/finalized", rpc.NewFinalizedSlotWatch(r.SubscribeFinalized))

	addr := fmt.Sprintf("%s:%d", cfg.RPC.Host, cfg.RPC.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("rpc server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server exited", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		_ = httpServer.Close()
	}()

	return r.Run(runCtx)
}
