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

package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/kvstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(Config{MaxSlotsPerRequest: 10, MaxBatchesPerRequest: 10, MaxTransactionsPerRequest: 10, MaxEventsPerRequest: 10}, kv)
}

func TestRecordAndQueryByHeightAndHash(t *testing.T) {
	s := newTestStore(t)
	h := types.BytesToHash([]byte("slot-1"))
	require.NoError(t, s.RecordFinalized(&types.StateTransition{Height: 1, SlotHash: h, PrevHash: types.Hash{}}))

	byHeight, err := s.GetSlotByHeight(1, Compact)
	require.NoError(t, err)
	require.Equal(t, h, byHeight.Hash)

	resps, err := s.GetSlots([]SlotIdentifier{{Hash: &h}}, Compact)
	require.NoError(t, err)
	require.Len(t, resps, 1)
	require.Equal(t, uint64(1), resps[0].Height)
}

func TestGetSlotsRejectsOverCapRequests(t *testing.T) {
	s := newTestStore(t)
	ids := make([]SlotIdentifier, 11)
	_, err := s.GetSlots(ids, Compact)
	require.ErrorIs(t, err, ErrTooManyItems)
}

func TestGetSlotByHeightNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSlotByHeight(42, Compact)
	require.ErrorIs(t, err, ErrNotFound)
}
