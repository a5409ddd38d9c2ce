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

package stf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
)

func TestApplySlotReturnsTransitionWithoutWrites(t *testing.T) {
	p := New()
	header := &types.Header{Height: 1, Hash: types.BytesToHash([]byte("h1")), PrevHash: types.Hash{}}
	batch := []kernel.ExecutionItem{
		{Sender: types.BytesToHash([]byte("a")), Payload: []byte("x")},
		{Sender: types.BytesToHash([]byte("b")), Payload: []byte("y")},
	}

	outcome, err := p.ApplySlot(1, header, types.ValidityCondition{}, batch)
	require.NoError(t, err)
	require.Equal(t, header.Hash, outcome.Transition.SlotHash)
	require.Equal(t, header.Height, outcome.Transition.Height)
	require.Empty(t, outcome.StateWrites)
	require.Empty(t, outcome.AccessoryWrites)
	require.Empty(t, outcome.LedgerWrites)
	require.Nil(t, outcome.TxReceipts)
}

func TestApplySlotHandlesEmptyBatch(t *testing.T) {
	p := New()
	header := &types.Header{Height: 2}
	outcome, err := p.ApplySlot(0, header, types.ValidityCondition{}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), outcome.Transition.Height)
}
