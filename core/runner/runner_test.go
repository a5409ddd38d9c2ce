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

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/da"
	"github.com/rollstack/core/core/da/mockda"
	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/proof"
	"github.com/rollstack/core/core/storage"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/kvstore"
)

type fakeRegistry struct{}

func (fakeRegistry) Stake(types.Hash) (uint64, bool)   { return 0, false }
func (fakeRegistry) IsPreferredSender(types.Hash) bool { return false }
func (fakeRegistry) IsSlashed(types.Hash) bool         { return false }
func (fakeRegistry) Slash(types.Hash, string)          {}
func (fakeRegistry) RegisterSequencer(types.Hash)      {}

type echoSTF struct{}

func (echoSTF) ApplySlot(preState types.SnapshotID, header *types.Header, validity types.ValidityCondition, batch []kernel.ExecutionItem) (*SlotOutcome, error) {
	return &SlotOutcome{
		Transition: types.StateTransition{
			SlotHash: header.Hash,
			Height:   header.Height,
			PrevHash: header.PrevHash,
		},
		StateWrites: storage.ChangeSet{"height": []byte{byte(header.Height)}},
	}, nil
}

type memLedger struct{ recorded []types.StateTransition }

func (m *memLedger) RecordFinalized(t *types.StateTransition) error {
	m.recorded = append(m.recorded, *t)
	return nil
}

func newTestRunner(t *testing.T) (*Runner, *mockda.DA, *memLedger) {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sm := storage.New(store)
	k, err := kernel.New(kernel.Config{DeferredSlotsCount: 0, UnregisteredBlobsPerSlot: 1, BlobsPerSlotEstimate: 4}, fakeRegistry{}, func(b []byte) (*kernel.PreferredPayload, error) {
		return &kernel.PreferredPayload{}, nil
	})
	require.NoError(t, err)

	d := mockda.New()
	ledger := &memLedger{}

	r := New(Config{GenesisHeight: 0, DAPollingIntervalMS: 50}, sm, k, d, echoSTF{}, proof.NoopManager{}, ledger)
	return r, d, ledger
}

// TestLoopAdvancesAndFinalizes runs the runner over three linearly chained
// DA blocks and checks finality processing drains the seen-transitions FIFO.
func TestLoopAdvancesAndFinalizes(t *testing.T) {
	r, d, ledger := newTestRunner(t)

	var zero types.Hash
	h1 := types.BytesToHash([]byte("b1"))
	h2 := types.BytesToHash([]byte("b2"))
	h3 := types.BytesToHash([]byte("b3"))

	d.Append(types.Header{Height: 0, PrevHash: zero, Hash: h1}, nil)
	d.Append(types.Header{Height: 1, PrevHash: h1, Hash: h2}, nil)
	d.Append(types.Header{Height: 2, PrevHash: h2, Hash: h3}, nil)
	d.Finalize(1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The loop runs out of DA blocks after height 2 and returns a permanent
	// error from GetBlockAt; what matters here is that finality processing
	// ran for the blocks that were available.
	_ = r.loop(ctx)

	require.GreaterOrEqual(t, len(ledger.recorded), 1)
	require.LessOrEqual(t, len(r.seen), 2)
}

// TestPrepareStorageRewindsToCommonAncestor matches spec.md §8 scenario 6:
// the runner has executed blocks at heights 1..5 on fork A when the DA
// layer serves a height-6 block whose prev_hash matches block 3, not block
// 5. prepareStorage must pop the seen transitions for heights 4 and 5,
// reset next_height to 4, and return the fork-B block at height 4 instead
// of the stale height-6 header.
func TestPrepareStorageRewindsToCommonAncestor(t *testing.T) {
	r, d, _ := newTestRunner(t)

	var zero types.Hash
	hA0 := types.BytesToHash([]byte("A0"))
	hA1 := types.BytesToHash([]byte("A1"))
	hA2 := types.BytesToHash([]byte("A2"))
	hA3 := types.BytesToHash([]byte("A3"))
	hA4 := types.BytesToHash([]byte("A4"))
	hA5 := types.BytesToHash([]byte("A5"))

	d.Append(types.Header{Height: 0, PrevHash: zero, Hash: hA0}, nil)
	d.Append(types.Header{Height: 1, PrevHash: hA0, Hash: hA1}, nil)
	d.Append(types.Header{Height: 2, PrevHash: hA1, Hash: hA2}, nil)
	d.Append(types.Header{Height: 3, PrevHash: hA2, Hash: hA3}, nil)
	d.Append(types.Header{Height: 4, PrevHash: hA3, Hash: hA4}, nil)
	d.Append(types.Header{Height: 5, PrevHash: hA4, Hash: hA5}, nil)
	d.Finalize(0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// Runs heights 0..5 and stops with a permanent "unknown height 6" error
	// fetching the next block, which hasn't been appended yet.
	_ = r.loop(ctx)

	require.Equal(t, uint64(6), r.nextHeight)
	require.Len(t, r.seen, 5) // heights 1..5; height 0 was finalized away

	// DA now serves a fork-B block at height 4, and a height-6 block whose
	// prev_hash points back at block 3, not block 5.
	hB4 := types.BytesToHash([]byte("B4"))
	hB6 := types.BytesToHash([]byte("B6"))
	d.Append(types.Header{Height: 4, PrevHash: hA3, Hash: hB4}, nil)
	staleHeader6 := &da.FilteredBlock{Header: types.Header{Height: 6, PrevHash: hA3, Hash: hB6}}

	rewound, preState, err := r.prepareStorage(ctx, staleHeader6)
	require.NoError(t, err)

	require.Equal(t, uint64(4), rewound.Header.Height)
	require.Equal(t, hB4, rewound.Header.Hash)
	require.Equal(t, uint64(4), r.nextHeight)
	require.Len(t, r.seen, 3) // heights 1..3 remain; 4 and 5 were popped

	// CreateStateFor on an already-registered hash just looks up its id, so
	// this confirms prepareStorage's returned preState is the fork-B height-4
	// snapshot rather than something built against the stale height-6 header.
	wantID, err := r.storage.CreateStateFor(&rewound.Header)
	require.NoError(t, err)
	require.Equal(t, wantID, preState)
}

func TestFinalizedBroadcasterDropsSlowConsumer(t *testing.T) {
	b := NewFinalizedBroadcaster(1)
	slow := b.Subscribe()

	h1 := &types.Header{Height: 1}
	h2 := &types.Header{Height: 2}
	b.Publish(h1)
	b.Publish(h2) // slow consumer hasn't read yet; this publish is dropped for it

	got := <-slow
	require.Equal(t, h1, got)
	select {
	case <-slow:
		t.Fatal("expected no second value; slow consumer should have missed it")
	default:
	}
}

func TestFinalizedBroadcasterFanOut(t *testing.T) {
	b := NewFinalizedBroadcaster(4)
	a := b.Subscribe()
	c := b.Subscribe()

	h := &types.Header{Height: 7}
	b.Publish(h)

	require.Equal(t, h, <-a)
	require.Equal(t, h, <-c)
}
