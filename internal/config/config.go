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

// Package config loads the node configuration recognized by the core:
// deferred-slot bounds, unregistered-blob quotas, polling intervals, the
// genesis height, server bind addresses and bulk-query caps.
package config

import (
	"github.com/BurntSushi/toml"
)

// Config is the full set of options spec.md §6 recognizes.
type Config struct {
	Kernel KernelConfig `toml:"kernel"`
	Runner RunnerConfig `toml:"runner"`
	RPC    RPCConfig    `toml:"rpc"`
	Ledger LedgerConfig `toml:"ledger"`
}

// KernelConfig governs the Blob Selection & Sequencing Kernel.
type KernelConfig struct {
	// DeferredSlotsCount bounds blob-execution latency. Zero disables the
	// preferred-sequencer path entirely (based sequencing only).
	DeferredSlotsCount uint64 `toml:"deferred_slots_count"`
	// UnregisteredBlobsPerSlot is the quota of unregistered-sender blobs
	// admitted per DA slot.
	UnregisteredBlobsPerSlot uint64 `toml:"unregistered_blobs_per_slot"`
}

// RunnerConfig governs the Slot Execution Pipeline.
type RunnerConfig struct {
	// DAPollingIntervalMS is the period of the sync-status updater task.
	DAPollingIntervalMS uint64 `toml:"da_polling_interval_ms"`
	// GenesisHeight is the DA height at which the rollup begins.
	GenesisHeight uint64 `toml:"genesis_height"`
}

// RPCConfig is the bind host/port pair for the RPC/REST surfaces.
type RPCConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LedgerConfig bounds bulk-query sizes.
type LedgerConfig struct {
	MaxSlotsPerRequest        uint64 `toml:"max_slots_per_request"`
	MaxBatchesPerRequest      uint64 `toml:"max_batches_per_request"`
	MaxTransactionsPerRequest uint64 `toml:"max_transactions_per_request"`
	MaxEventsPerRequest       uint64 `toml:"max_events_per_request"`
}

// Default returns sane defaults matching the teacher's habit of fully zero-
// valued configs being unusable: every cap here is non-zero.
func Default() Config {
	return Config{
		Kernel: KernelConfig{
			DeferredSlotsCount:       5,
			UnregisteredBlobsPerSlot: 10,
		},
		Runner: RunnerConfig{
			DAPollingIntervalMS: defaultPollingIntervalMS,
			GenesisHeight:       0,
		},
		RPC: RPCConfig{Host: "127.0.0.1", Port: 12345},
		Ledger: LedgerConfig{
			MaxSlotsPerRequest:        100,
			MaxBatchesPerRequest:      100,
			MaxTransactionsPerRequest: 100,
			MaxEventsPerRequest:       100,
		},
	}
}

const defaultPollingIntervalMS = uint64(2000)

// Load reads and parses a TOML config file, following the teacher's own
// preference for BurntSushi/toml over the reflection-heavy naoina/toml.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
