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

package forkdag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/types"
)

func hash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestAllocIDIsIdempotent(t *testing.T) {
	d := New()
	a := hash(1)
	p := hash(0)

	id1 := d.AllocID(a, p)
	id2 := d.AllocID(a, p)
	require.Equal(t, id1, id2)
}

func TestAllocDangledIDSharesCounter(t *testing.T) {
	d := New()
	first := d.AllocID(hash(1), hash(0))
	dangled := d.AllocDangledID()
	second := d.AllocID(hash(2), hash(1))

	require.True(t, dangled > first)
	require.True(t, second > dangled)
}

func TestSiblingsExcludesGivenHash(t *testing.T) {
	d := New()
	parent := hash(0)
	left, right := hash(1), hash(2)
	d.AllocID(left, parent)
	d.AllocID(right, parent)

	siblings := d.Siblings(parent, left)
	require.True(t, siblings.Contains(right))
	require.False(t, siblings.Contains(left))
}

func TestForgetRemovesFromChildAndParentIndex(t *testing.T) {
	d := New()
	parent, child := hash(0), hash(1)
	d.AllocID(child, parent)

	d.Forget(child)

	_, ok := d.Lookup(child)
	require.False(t, ok)
	require.Empty(t, d.Children(parent))
}

func TestForgetSubtreeWalksDescendants(t *testing.T) {
	d := New()
	root, mid, leaf := hash(1), hash(2), hash(3)
	d.AllocID(root, hash(0))
	d.AllocID(mid, root)
	d.AllocID(leaf, mid)

	removed := d.ForgetSubtree(root)
	require.ElementsMatch(t, []types.Hash{root, mid, leaf}, removed)

	_, ok := d.Lookup(leaf)
	require.False(t, ok)
}
