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

// Package runner implements the Slot Execution Pipeline: the main loop that
// polls the DA layer, detects and rewinds reorgs, drives the STF over each
// block, tracks finality through a FIFO of unfinalized transitions, and
// hands finalized transitions to the ProofManager. It generalizes the
// teacher's core/headerdb.go chain-tip bookkeeping (there: total-difficulty
// forks of block headers; here: DA-height forks of slot transitions) and
// eth/downloader/resultcache.go's ordered-result-draining shape (there:
// fetched block bodies; here: finalized transitions).
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rollstack/core/core/da"
	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/proof"
	"github.com/rollstack/core/core/storage"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/metrics"
)

// ErrReorgUnmatched is the permanent error raised when rewinding cannot find
// a common ancestor in the seen-transitions FIFO, per spec.md §4.2 step 3.
var ErrReorgUnmatched = errors.New("runner: could not match any seen block with the current chain")

var (
	heightGauge   = metrics.NewRegisteredMeter("runner/height", nil)
	reorgMeter    = metrics.NewRegisteredMeter("runner/reorg", nil)
	finalizeMeter = metrics.NewRegisteredMeter("runner/finalized", nil)
)

// STF is the state-transition function the runner drives over each slot.
// Concrete module semantics (authentication, dispatch, hooks) are a spec.md
// §1 Non-goal; this is the boundary the runner programs against.
type STF interface {
	ApplySlot(preState types.SnapshotID, header *types.Header, validity types.ValidityCondition, batch []kernel.ExecutionItem) (*SlotOutcome, error)
}

// SlotOutcome is everything one apply_slot call produces.
type SlotOutcome struct {
	Transition    types.StateTransition
	StateWrites   storage.ChangeSet
	AccessoryWrites storage.ChangeSet
	LedgerWrites  storage.ChangeSet
	TxReceipts    []types.TxReceipt
	ProofReceipts [][]byte
}

// LedgerWriter persists the ledger-visible record of a finalized transition;
// implemented by core/ledger.
type LedgerWriter interface {
	RecordFinalized(t *types.StateTransition) error
}

// RPCStorageCell is the single-producer/multi-consumer watch cell of
// spec.md §5: the runner replaces it after every save_change_set, consumers
// clone-on-read.
type RPCStorageCell struct {
	v atomic.Value // holds types.SnapshotID
}

func (c *RPCStorageCell) Store(id types.SnapshotID) { c.v.Store(id) }
func (c *RPCStorageCell) Load() (types.SnapshotID, bool) {
	v := c.v.Load()
	if v == nil {
		return 0, false
	}
	return v.(types.SnapshotID), true
}

// FinalizedBroadcaster is the bounded broadcast channel of spec.md §5: slow
// consumers are dropped rather than blocking the runner.
type FinalizedBroadcaster struct {
	mu   sync.Mutex
	subs []chan *types.Header
	cap  int
}

func NewFinalizedBroadcaster(capacity int) *FinalizedBroadcaster {
	return &FinalizedBroadcaster{cap: capacity}
}

func (b *FinalizedBroadcaster) Subscribe() <-chan *types.Header {
	ch := make(chan *types.Header, b.cap)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *FinalizedBroadcaster) Publish(h *types.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- h:
		default:
			// slow consumer drops the update; its next read observes a lag.
		}
	}
}

// SyncStatus exposes synced/target DA heights with acquire/release
// semantics via atomics, matching spec.md §4.2's sync-status updater.
type SyncStatus struct {
	synced uint64
	target uint64
}

func (s *SyncStatus) SetSynced(h uint64) { atomic.StoreUint64(&s.synced, h) }
func (s *SyncStatus) SetTarget(h uint64) { atomic.StoreUint64(&s.target, h) }
func (s *SyncStatus) Synced() uint64     { return atomic.LoadUint64(&s.synced) }
func (s *SyncStatus) Target() uint64     { return atomic.LoadUint64(&s.target) }
func (s *SyncStatus) IsSynced() bool     { return s.Synced() >= s.Target() }

// Config governs the runner loop.
type Config struct {
	GenesisHeight       uint64
	DAPollingIntervalMS uint64
}

// Runner drives the Slot Execution Pipeline.
type Runner struct {
	cfg Config

	storage *storage.Manager
	kernel  *kernel.Kernel
	da      da.Client
	stf     STF
	proofs  proof.Manager
	ledger  LedgerWriter

	seen []types.StateTransition // FIFO of unfinalized transitions, front = oldest

	rpcStorage  *RPCStorageCell
	broadcaster *FinalizedBroadcaster
	sync        SyncStatus

	nextHeight uint64
	log        glog.Logger
}

// New constructs a Runner. The caller wires concrete STF/ProofManager/
// LedgerWriter implementations.
func New(cfg Config, st *storage.Manager, k *kernel.Kernel, client da.Client, stf STF, proofs proof.Manager, ledger LedgerWriter) *Runner {
	return &Runner{
		cfg:         cfg,
		storage:     st,
		kernel:      k,
		da:          client,
		stf:         stf,
		proofs:      proofs,
		ledger:      ledger,
		rpcStorage:  &RPCStorageCell{},
		broadcaster: NewFinalizedBroadcaster(64),
		nextHeight:  cfg.GenesisHeight,
		log:         glog.New("component", "runner"),
	}
}

// RPCStorage returns the watch cell RPC handlers clone-read from.
func (r *Runner) RPCStorage() *RPCStorageCell { return r.rpcStorage }

// SubscribeFinalized returns a channel receiving every newly finalized
// header; a slow consumer sees dropped updates, never blocks the runner.
func (r *Runner) SubscribeFinalized() <-chan *types.Header { return r.broadcaster.Subscribe() }

// Sync exposes the background-updated sync status.
func (r *Runner) Sync() *SyncStatus { return &r.sync }

// RunSyncStatusUpdater polls DA.GetHeadBlockHeader at Config.DAPollingIntervalMS
// and stores the result as the target DA height, the background task of
// spec.md §4.2.
func (r *Runner) RunSyncStatusUpdater(ctx context.Context) error {
	interval := time.Duration(r.cfg.DAPollingIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hdr, err := r.da.GetHeadBlockHeader(ctx)
			if err != nil {
				var transient *da.TransientError
				if errors.As(err, &transient) {
					r.log.Warn("sync-status updater: transient DA error", "error", err)
					continue
				}
				return err
			}
			r.sync.SetTarget(hdr.Height)
		}
	}
}

// Run launches the runner loop and the background sync-status updater
// together; either's terminal error cancels the group, per spec.md §5's
// single-threaded-cooperative-loop-plus-background-tasks model.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.RunSyncStatusUpdater(gctx) })
	g.Go(func() error { return r.loop(gctx) })
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if r.nextHeight < r.cfg.GenesisHeight {
			r.nextHeight = r.cfg.GenesisHeight
		}

		block, err := r.da.GetBlockAt(ctx, r.nextHeight)
		if err != nil {
			var transient *da.TransientError
			if errors.As(err, &transient) {
				r.log.Warn("transient DA error fetching block", "height", r.nextHeight, "error", err)
				continue
			}
			return fmt.Errorf("runner: fetch block %d: %w", r.nextHeight, err)
		}

		block, preState, err := r.prepareStorage(ctx, block)
		if err != nil {
			return err
		}
		header := block.Header

		batchBlobs, _, err := r.da.ExtractRelevantBlobs(ctx, block)
		if err != nil {
			return fmt.Errorf("runner: extract blobs at %d: %w", header.Height, err)
		}
		slotResult := r.kernel.ProcessSlot(header.Height, batchBlobs)

		outcome, err := r.stf.ApplySlot(preState, &header, header.Validity, slotResult.Items)
		if err != nil {
			r.log.Crit("apply_slot panic-equivalent failure", "height", header.Height, "error", err)
			return fmt.Errorf("runner: apply_slot at %d: %w", header.Height, err)
		}

		if err := r.storage.SaveChangeSet(&header, outcome.StateWrites, outcome.AccessoryWrites, outcome.LedgerWrites); err != nil {
			return fmt.Errorf("runner: save_change_set at %d: %w", header.Height, err)
		}
		r.rpcStorage.Store(preState)
		r.seen = append(r.seen, outcome.Transition)

		if _, err := r.proofs.VerifyAggregated(outcome.ProofReceipts); err != nil {
			r.log.Warn("proof verification failed", "height", header.Height, "error", err)
		}

		finalizedHeader, err := r.da.GetLastFinalizedBlockHeader(ctx)
		if err != nil {
			var transient *da.TransientError
			if !errors.As(err, &transient) {
				return fmt.Errorf("runner: get_last_finalized_block_header: %w", err)
			}
		} else {
			finalized := r.processFinality(finalizedHeader.Height, &header)
			for i := range finalized {
				if err := r.ledger.RecordFinalized(&finalized[i]); err != nil {
					return fmt.Errorf("runner: record finalized at %d: %w", finalized[i].Height, err)
				}
				if err := r.proofs.PostAggregatedProof(&finalized[i]); err != nil {
					r.log.Warn("post_aggregated_proof failed", "height", finalized[i].Height, "error", err)
				}
				finalizeMeter.Mark(1)
			}
			if len(finalized) > 0 {
				r.broadcaster.Publish(finalizedHeader)
			}
		}

		heightGauge.Mark(1)
		r.sync.SetSynced(header.Height)
		r.nextHeight = header.Height + 1
	}
}

// prepareStorage implements spec.md §4.2's prepare_storage: the happy path
// just creates/looks up the snapshot for block's header; on a mismatch with
// the last-seen transition it rewinds via detectAndRewind first, which
// re-fetches the block at the rollback height from DA and returns it in
// block's place, per the pseudocode's "(pre_state, block) := prepare_storage"
// and "next_height := block.header.height // may decrease".
func (r *Runner) prepareStorage(ctx context.Context, block *da.FilteredBlock) (*da.FilteredBlock, types.SnapshotID, error) {
	header := block.Header
	if len(r.seen) > 0 {
		back := r.seen[len(r.seen)-1]
		if back.SlotHash != header.PrevHash {
			rewound, err := r.detectAndRewind(ctx, &header)
			if err != nil {
				return nil, 0, err
			}
			block = rewound
			header = block.Header
		}
	}
	id, err := r.storage.CreateStateFor(&header)
	if err != nil {
		return nil, 0, err
	}
	return block, id, nil
}

// detectAndRewind implements spec.md §4.2's reorg algorithm (concrete
// scenario 6): pop seen transitions from the back until one's prev_hash
// matches the newly-fetched block's prev_hash, relocate nextHeight to that
// transition's height, re-point the RPC watch cell to the rollback point,
// then re-fetch the block at that height from DA — the new chain's version
// of it, not the one originally fetched — and return it so the caller
// resumes execution from there instead of the stale header.
func (r *Runner) detectAndRewind(ctx context.Context, header *types.Header) (*da.FilteredBlock, error) {
	reorgMeter.Mark(1)
	for len(r.seen) > 0 {
		t := r.seen[len(r.seen)-1]
		if t.PrevHash == header.PrevHash {
			// t is the rollback point: its prev_hash is the common ancestor's
			// hash, so re-executing from t.Height applies the new fork.
			r.nextHeight = t.Height
			r.seen = r.seen[:len(r.seen)-1]
			parentID, err := r.storage.CreateStateAfter(&types.Header{Hash: t.PrevHash})
			if err == nil {
				r.rpcStorage.Store(parentID)
			}
			rewound, err := r.da.GetBlockAt(ctx, r.nextHeight)
			if err != nil {
				return nil, fmt.Errorf("runner: re-fetch block %d after rewind: %w", r.nextHeight, err)
			}
			return rewound, nil
		}
		r.seen = r.seen[:len(r.seen)-1]
	}
	return nil, fmt.Errorf("%w: height %d", ErrReorgUnmatched, header.Height)
}

// processFinality walks seen from the front, popping and returning every
// transition whose height has reached finality, per spec.md §4.2.
func (r *Runner) processFinality(lastFinalizedHeight uint64, latest *types.Header) []types.StateTransition {
	var finalized []types.StateTransition
	for len(r.seen) > 0 && r.seen[0].Height <= lastFinalizedHeight {
		t := r.seen[0]
		r.seen = r.seen[1:]
		if err := r.storage.Finalize(&types.Header{Height: t.Height, PrevHash: t.PrevHash, Hash: t.SlotHash}); err != nil {
			r.log.Error("finalize failed", "height", t.Height, "error", err)
			continue
		}
		finalized = append(finalized, t)
	}
	return finalized
}

