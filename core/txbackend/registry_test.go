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

package txbackend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/types"
)

func TestGrantAndStake(t *testing.T) {
	r := NewMemoryRegistry()
	sender := types.BytesToHash([]byte("sender-1"))

	_, ok := r.Stake(sender)
	require.False(t, ok)

	r.Grant(sender, 100)
	stake, ok := r.Stake(sender)
	require.True(t, ok)
	require.Equal(t, uint64(100), stake)
}

func TestSetPreferredMakesSenderPreferred(t *testing.T) {
	r := NewMemoryRegistry()
	sender := types.BytesToHash([]byte("sender-2"))

	require.False(t, r.IsPreferredSender(sender))
	r.SetPreferred(sender)
	require.True(t, r.IsPreferredSender(sender))
}

func TestSlashRevokesPreferredStatus(t *testing.T) {
	r := NewMemoryRegistry()
	sender := types.BytesToHash([]byte("sender-3"))
	r.SetPreferred(sender)
	require.True(t, r.IsPreferredSender(sender))

	r.Slash(sender, "equivocation")
	require.True(t, r.IsSlashed(sender))
	require.False(t, r.IsPreferredSender(sender))
}

func TestRegisterSequencerCreatesUnstakedRecord(t *testing.T) {
	r := NewMemoryRegistry()
	sender := types.BytesToHash([]byte("sender-4"))

	r.RegisterSequencer(sender)
	stake, ok := r.Stake(sender)
	require.True(t, ok)
	require.Equal(t, uint64(0), stake)
	require.False(t, r.IsSlashed(sender))
}
