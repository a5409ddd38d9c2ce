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

// Package proof defines the thin contract the runner holds against the
// external proving system: verifying proof receipts gathered during slot
// execution, and posting one aggregated proof per finalized transition.
// Proof system internals are a spec.md §1 Non-goal; only the boundary is
// specified here.
package proof

import "github.com/rollstack/core/core/types"

// Manager is implemented by the external prover integration.
type Manager interface {
	// VerifyAggregated checks the proof receipts produced by one apply_slot
	// call and returns the subset that verified.
	VerifyAggregated(receipts [][]byte) ([][]byte, error)
	// PostAggregatedProof submits the proof for one finalized transition.
	// Called once per finalized transition, not once per slot: a slot that
	// finalizes zero or several transitions calls this zero or several
	// times in height order.
	PostAggregatedProof(t *types.StateTransition) error
}

// NoopManager verifies nothing and discards every proof; useful for running
// the pipeline without a configured prover (e.g. in tests).
type NoopManager struct{}

func (NoopManager) VerifyAggregated(receipts [][]byte) ([][]byte, error) { return receipts, nil }
func (NoopManager) PostAggregatedProof(*types.StateTransition) error    { return nil }
