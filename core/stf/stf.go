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

// Package stf provides a reference runner.STF: the concrete state-transition
// function is explicitly out of scope (spec.md §1 treats "concrete module
// implementations" as collaborators), so this returns a transition for each
// slot without touching state, accessory or ledger namespaces.
// A real deployment replaces this with its own module set.
package stf

import (
	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/runner"
	"github.com/rollstack/core/core/storage"
	"github.com/rollstack/core/core/types"
)

// PassThrough returns the slot's transition and writes no state; it exists
// so cmd/rollupd can run the pipeline end to end without a concrete module
// implementation plugged in. It builds a Rewarded receipt per item, but
// SlotOutcome has no batch-receipt field, so those receipts are not returned,
// and TxReceipts is nil.
type PassThrough struct{}

func New() *PassThrough { return &PassThrough{} }

func (p *PassThrough) ApplySlot(preState types.SnapshotID, header *types.Header, validity types.ValidityCondition, batch []kernel.ExecutionItem) (*runner.SlotOutcome, error) {
	receipts := make([]types.BatchReceipt, 0, len(batch))
	for _, item := range batch {
		receipts = append(receipts, types.BatchReceipt{Sender: item.Sender, Outcome: types.BatchRewarded})
	}
	return &runner.SlotOutcome{
		Transition: types.StateTransition{
			SlotHash:         header.Hash,
			Height:           header.Height,
			PrevHash:         header.PrevHash,
			InitialStateRoot: types.Hash{},
			PostStateRoot:    types.Hash{},
			Validity:         validity,
		},
		StateWrites:     storage.ChangeSet{},
		AccessoryWrites: storage.ChangeSet{},
		LedgerWrites:    storage.ChangeSet{},
		TxReceipts:      nil,
		ProofReceipts:   nil,
	}, nil
}

var _ runner.STF = (*PassThrough)(nil)
