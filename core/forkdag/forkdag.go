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

// Package forkdag tracks the DAG of observed DA blocks: a parent maps to
// possibly many children (fork points), a child maps to at most one parent.
// It is the generalization of the teacher's core/headerdb.go single-chain
// hdrInfo linked list to a branching tree that never prunes until a fork is
// finalized or abandoned.
package forkdag

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/rollstack/core/core/types"
)

// DAG maintains the symmetric children/parent mappings of spec.md §3 plus
// the block-hash -> snapshot-id index, guarded by a single RWMutex the way
// the shared snapshot parent map of spec.md §4.1/§5 is guarded: mutators
// hold the writer lock only while allocating or removing entries, readers
// walk ancestor chains under the reader lock without performing I/O.
type DAG struct {
	mu sync.RWMutex

	children map[types.Hash][]types.Hash
	parent   map[types.Hash]types.Hash
	ids      map[types.Hash]types.SnapshotID // block hash -> snapshot id
	nextID   types.SnapshotID
}

func New() *DAG {
	return &DAG{
		children: make(map[types.Hash][]types.Hash),
		parent:   make(map[types.Hash]types.Hash),
		ids:      make(map[types.Hash]types.SnapshotID),
	}
}

// AllocID returns the snapshot id already tracked for hash, or allocates a
// new one and links it under parentHash. Idempotent: calling twice for the
// same hash returns the same id, matching spec.md §4.1's snapshot-creation
// algorithm and the invariant in §8 ("create_state_for returns the same
// snapshot id twice in succession").
func (d *DAG) AllocID(hash, parentHash types.Hash) types.SnapshotID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.ids[hash]; ok {
		return id
	}
	d.nextID++
	id := d.nextID
	d.ids[hash] = id
	d.parent[hash] = parentHash
	d.children[parentHash] = append(d.children[parentHash], hash)
	return id
}

// AllocDangledID draws the next id from the same counter as AllocID without
// registering any hash mapping, for unkeyed (dangled) read-only views.
func (d *DAG) AllocDangledID() types.SnapshotID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

// Lookup returns the snapshot id tracked for hash, if any.
func (d *DAG) Lookup(hash types.Hash) (types.SnapshotID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[hash]
	return id, ok
}

// Parent returns the tracked parent hash of hash, if any entry exists.
func (d *DAG) Parent(hash types.Hash) (types.Hash, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.parent[hash]
	return p, ok
}

// Children returns a copy of the children recorded for hash.
func (d *DAG) Children(hash types.Hash) []types.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kids := d.children[hash]
	out := make([]types.Hash, len(kids))
	copy(out, kids)
	return out
}

// Forget removes the bookkeeping for hash: its id, its parent entry, and its
// membership in its parent's child list. It does not recurse; callers (the
// storage manager's finalize/prune walk) own the traversal order.
func (d *DAG) Forget(hash types.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgetLocked(hash)
}

func (d *DAG) forgetLocked(hash types.Hash) {
	parent, hadParent := d.parent[hash]
	delete(d.parent, hash)
	delete(d.ids, hash)
	if hadParent {
		kids := d.children[parent]
		for i, k := range kids {
			if k == hash {
				kids = append(kids[:i], kids[i+1:]...)
				break
			}
		}
		if len(kids) == 0 {
			delete(d.children, parent)
		} else {
			d.children[parent] = kids
		}
	}
	delete(d.children, hash)
}

// Siblings copies children[parentHash] minus except into a set, leaving the
// children map unchanged; the set is the work
// list that finalize() uses to discard abandoned fork subtrees (spec.md
// §4.1 step 6), built with golang-set the way the teacher dedups
// peer/transaction sets elsewhere in its codebase.
func (d *DAG) Siblings(parentHash, except types.Hash) mapset.Set {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := mapset.NewSet()
	for _, c := range d.children[parentHash] {
		if c != except {
			out.Add(c)
		}
	}
	return out
}

// ForgetSubtree recursively forgets hash and every descendant reachable
// through the children map, without holding the lock across the whole
// walk — each step takes and releases the writer lock, matching §5's "no
// suspension while holding the writer lock" guidance applied to a CPU-only
// (non-suspending) walk of bounded fan-out.
func (d *DAG) ForgetSubtree(hash types.Hash) []types.Hash {
	var removed []types.Hash
	work := []types.Hash{hash}
	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]

		kids := d.Children(h)
		work = append(work, kids...)

		d.Forget(h)
		removed = append(removed, h)
	}
	return removed
}
