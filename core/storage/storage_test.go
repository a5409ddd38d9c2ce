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

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/kvstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func header(height uint64, prev, hash types.Hash) *types.Header {
	return &types.Header{Height: height, PrevHash: prev, Hash: hash}
}

// TestLinearFinalizationLeavesStorageEmpty walks a straight chain of three
// blocks to finality and asserts every in-memory snapshot for the finalized
// chain is discarded, matching spec.md §8 scenario 1.
func TestLinearFinalizationLeavesStorageEmpty(t *testing.T) {
	m := newTestManager(t)

	var zero types.Hash
	h1 := types.BytesToHash([]byte("block-1"))
	h2 := types.BytesToHash([]byte("block-2"))
	h3 := types.BytesToHash([]byte("block-3"))

	hdr1 := header(1, zero, h1)
	hdr2 := header(2, h1, h2)
	hdr3 := header(3, h2, h3)

	id1, err := m.CreateStateFor(hdr1)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdr1, ChangeSet{"a": []byte("1")}, nil, nil))

	id2, err := m.CreateStateFor(hdr2)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdr2, ChangeSet{"a": []byte("2")}, nil, nil))

	id3, err := m.CreateStateFor(hdr3)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdr3, ChangeSet{"a": []byte("3")}, nil, nil))

	v, hit, err := m.Get(id3, NamespaceState, []byte("a"))
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("3"), v)

	require.NoError(t, m.Finalize(hdr3))

	require.False(t, m.IsTracked(id1))
	require.False(t, m.IsTracked(id2))
	require.False(t, m.IsTracked(id3))

	v, err = m.store.Get(NamespaceState, []byte("a"))
	require.NoError(t, err)
	hit, err = m.store.Has(NamespaceState, []byte("a"))
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("3"), v)
}

// TestForkPruning asserts that finalizing one branch discards the sibling
// branch's tracked snapshots, per spec.md §8 scenario 2.
func TestForkPruning(t *testing.T) {
	m := newTestManager(t)

	var zero types.Hash
	root := types.BytesToHash([]byte("root"))
	left := types.BytesToHash([]byte("left"))
	right := types.BytesToHash([]byte("right"))

	hdrRoot := header(1, zero, root)
	hdrLeft := header(2, root, left)
	hdrRight := header(2, root, right)

	_, err := m.CreateStateFor(hdrRoot)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdrRoot, ChangeSet{"k": []byte("root")}, nil, nil))

	idLeft, err := m.CreateStateFor(hdrLeft)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdrLeft, ChangeSet{"k": []byte("left")}, nil, nil))

	idRight, err := m.CreateStateFor(hdrRight)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdrRight, ChangeSet{"k": []byte("right")}, nil, nil))

	require.NoError(t, m.Finalize(hdrLeft))

	require.False(t, m.IsTracked(idLeft))
	require.False(t, m.IsTracked(idRight))

	_, tracked := m.dag.Lookup(right)
	require.False(t, tracked)
}

// TestDangledSnapshotReadsParent confirms a bootstrap dangled view reads
// whatever the bootstrap layer holds, and an after-block dangled view reads
// through to its parent's committed writes once finalized.
func TestDangledSnapshotReadsParent(t *testing.T) {
	m := newTestManager(t)

	bootstrap := m.CreateBootstrapState()
	_, hit, err := m.Get(bootstrap, NamespaceState, []byte("missing"))
	require.NoError(t, err)
	require.False(t, hit)

	var zero types.Hash
	h1 := types.BytesToHash([]byte("block-1"))
	hdr1 := header(1, zero, h1)

	_, err = m.CreateStateFor(hdr1)
	require.NoError(t, err)
	require.NoError(t, m.SaveChangeSet(hdr1, ChangeSet{"a": []byte("1")}, nil, nil))

	after, err := m.CreateStateAfter(hdr1)
	require.NoError(t, err)

	v, hit, err := m.Get(after, NamespaceState, []byte("a"))
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, m.Finalize(hdr1))

	v, hit, err = m.Get(after, NamespaceState, []byte("a"))
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("1"), v)
}

// TestCreateStateForIsIdempotent asserts the same block hash always resolves
// to the same snapshot id, per spec.md §8's repeated-call invariant.
func TestCreateStateForIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	var zero types.Hash
	h1 := types.BytesToHash([]byte("block-1"))
	hdr1 := header(1, zero, h1)

	id1, err := m.CreateStateFor(hdr1)
	require.NoError(t, err)
	id2, err := m.CreateStateFor(hdr1)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

// TestCreateStateForUnknownAncestor asserts the snapshot manager refuses to
// build atop a never-observed parent.
func TestCreateStateForUnknownAncestor(t *testing.T) {
	m := newTestManager(t)
	orphanParent := types.BytesToHash([]byte("nowhere"))
	h1 := types.BytesToHash([]byte("block-1"))
	hdr1 := header(5, orphanParent, h1)

	_, err := m.CreateStateFor(hdr1)
	require.ErrorIs(t, err, ErrUnknownAncestor)
}
