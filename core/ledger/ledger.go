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

// Package ledger implements the read-only ledger interface of spec.md §6 for
// slots only: bounded bulk slot queries capped by MaxSlotsPerRequest, in
// three query modes (Compact, Standard, Full). There are no batch,
// transaction or event queries; the other Max*PerRequest caps in Config are
// stored but nothing reads them. Records are appended in height order and compressed with
// snappy the way the teacher's core/rawdb freezer tables compress ancient
// chain segments before writing them to disk.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/kvstore"
)

// QueryMode controls how much of the slot/batch/tx hierarchy a query
// materializes, per spec.md §6.
type QueryMode int

const (
	// Compact returns no children.
	Compact QueryMode = iota
	// Standard returns children identified by hash only.
	Standard
	// Full recursively populates every descendant.
	Full
)

var (
	ErrNotFound     = errors.New("ledger: record not found")
	ErrTooManyItems = errors.New("ledger: request exceeds configured bulk cap")
)

// SlotIdentifier addresses a slot by number or by hash.
type SlotIdentifier struct {
	Number *uint64
	Hash   *types.Hash
}

// ChildIdentifier addresses a batch/tx/event hierarchically: either by its
// own hash, or as an (parent, offset) pair. No query in this package accepts
// or resolves a ChildIdentifier.
type ChildIdentifier struct {
	Hash   *types.Hash
	Parent *types.Hash
	Offset *uint64
}

// EventResponse is the leaf of the slot->batch->tx->event hierarchy.
type EventResponse struct {
	Hash types.Hash
	Data []byte
}

// TxResponse is a ledger-recorded transaction and its receipt.
type TxResponse struct {
	Hash    types.Hash
	Receipt types.TxReceipt
	Events  []types.Hash    // Standard
	Full    []EventResponse // Full
}

// BatchResponse is a ledger-recorded batch (one per admitted DA blob).
type BatchResponse struct {
	Hash         types.Hash
	Receipt      types.BatchReceipt
	Transactions []types.Hash  // Standard
	Full         []TxResponse  // Full
}

// SlotResponse is the finalized-transition ledger record of spec.md §6.
type SlotResponse struct {
	Height   uint64
	Hash     types.Hash
	PrevHash types.Hash
	Batches  []types.Hash    // Standard
	Full     []BatchResponse // Full
}

// Config bounds bulk-query sizes; mirrors internal/config.LedgerConfig.
type Config struct {
	MaxSlotsPerRequest        uint64
	MaxBatchesPerRequest      uint64
	MaxTransactionsPerRequest uint64
	MaxEventsPerRequest       uint64
}

// Store is the ledger's persistent record of every finalized transition.
type Store struct {
	cfg   Config
	store *kvstore.Store
}

func New(cfg Config, store *kvstore.Store) *Store {
	return &Store{cfg: cfg, store: store}
}

func slotKey(height uint64) []byte {
	var b [9]byte
	b[0] = 's'
	binary.BigEndian.PutUint64(b[1:], height)
	return b[:]
}

func slotHashIndexKey(hash types.Hash) []byte {
	out := make([]byte, 0, 1+len(hash))
	out = append(out, 'h')
	out = append(out, hash[:]...)
	return out
}

// RecordFinalized persists one finalized transition as a Compact slot
// record, indexed by both height and hash, implementing runner.LedgerWriter.
func (s *Store) RecordFinalized(t *types.StateTransition) error {
	resp := SlotResponse{Height: t.Height, Hash: t.SlotHash, PrevHash: t.PrevHash}
	encoded := snappy.Encode(nil, encodeSlot(&resp))

	batch := s.store.NewBatch(kvstore.NamespaceLedger)
	batch.Put(slotKey(t.Height), encoded)
	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, t.Height)
	batch.Put(slotHashIndexKey(t.SlotHash), heightBytes)
	return batch.Write()
}

// GetSlots resolves a bounded bulk slot query, honoring mode but never
// populating Full batch/tx/event contents from this package alone — those
// are layered on by the kernel/runner-facing aggregator that also owns
// batch/tx/event persistence (not modeled further; spec.md §1 excludes
// concrete REST schemas).
func (s *Store) GetSlots(ids []SlotIdentifier, mode QueryMode) ([]*SlotResponse, error) {
	if uint64(len(ids)) > s.cfg.MaxSlotsPerRequest {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(ids), s.cfg.MaxSlotsPerRequest)
	}
	out := make([]*SlotResponse, 0, len(ids))
	for _, id := range ids {
		resp, err := s.getSlot(id)
		if err != nil {
			return nil, err
		}
		if mode == Compact {
			resp.Batches = nil
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *Store) getSlot(id SlotIdentifier) (*SlotResponse, error) {
	height, err := s.resolveSlotHeight(id)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Get(kvstore.NamespaceLedger, slotKey(height))
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode slot %d: %w", height, err)
	}
	return decodeSlot(decoded)
}

func (s *Store) resolveSlotHeight(id SlotIdentifier) (uint64, error) {
	if id.Number != nil {
		return *id.Number, nil
	}
	if id.Hash == nil {
		return 0, fmt.Errorf("ledger: slot identifier has neither number nor hash")
	}
	raw, err := s.store.Get(kvstore.NamespaceLedger, slotHashIndexKey(*id.Hash))
	if err != nil {
		return 0, ErrNotFound
	}
	return binary.BigEndian.Uint64(raw), nil
}

// GetSlotByHeight is a convenience single-item accessor used by RPC handlers.
func (s *Store) GetSlotByHeight(height uint64, mode QueryMode) (*SlotResponse, error) {
	n := height
	resps, err := s.GetSlots([]SlotIdentifier{{Number: &n}}, mode)
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

func encodeSlot(r *SlotResponse) []byte {
	buf := make([]byte, 0, 8+32+32+1+len(r.Batches)*32)
	var heightB [8]byte
	binary.BigEndian.PutUint64(heightB[:], r.Height)
	buf = append(buf, heightB[:]...)
	buf = append(buf, r.Hash[:]...)
	buf = append(buf, r.PrevHash[:]...)
	var countB [4]byte
	binary.BigEndian.PutUint32(countB[:], uint32(len(r.Batches)))
	buf = append(buf, countB[:]...)
	for _, h := range r.Batches {
		buf = append(buf, h[:]...)
	}
	return buf
}

func decodeSlot(b []byte) (*SlotResponse, error) {
	if len(b) < 8+32+32+4 {
		return nil, fmt.Errorf("ledger: truncated slot record")
	}
	r := &SlotResponse{}
	r.Height = binary.BigEndian.Uint64(b[:8])
	copy(r.Hash[:], b[8:40])
	copy(r.PrevHash[:], b[40:72])
	count := binary.BigEndian.Uint32(b[72:76])
	off := 76
	for i := uint32(0); i < count; i++ {
		if off+32 > len(b) {
			return nil, fmt.Errorf("ledger: truncated slot batch list")
		}
		var h types.Hash
		copy(h[:], b[off:off+32])
		r.Batches = append(r.Batches, h)
		off += 32
	}
	return r, nil
}
