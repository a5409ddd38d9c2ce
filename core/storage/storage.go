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

// Package storage implements the Hierarchical Storage Manager: a DAG of
// in-memory snapshots layered over a persistent key-value store, supporting
// concurrent speculative forks, finalization and dangled read-only views.
//
// It generalizes the teacher's core/state/snapshot diff-layer tree (one
// chain of account/storage diffs per state root) to a branching tree keyed
// by block hash, where each snapshot owns three independent change sets
// (state, accessory, ledger) instead of one, and where finalize() commits
// each ancestor individually to the persistent store rather than flattening
// diff layers into each other — the teacher's Cap()/diffToDisk() merge step
// has no equivalent here because nothing needs to be read back through an
// in-memory diff once its block has finalized.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/rollstack/core/core/forkdag"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/kvstore"
	"github.com/rollstack/core/internal/metrics"
)

// defaultCleanCacheBytes bounds the in-memory cache of persisted (finalized)
// reads, the same role the teacher's "clean cache" plays in front of its
// on-disk diff layer.
const defaultCleanCacheBytes = 16 * 1024 * 1024

// Namespace mirrors kvstore.Namespace at the storage-manager layer so that
// callers of this package never need to import kvstore directly.
type Namespace = kvstore.Namespace

const (
	NamespaceState     = kvstore.NamespaceState
	NamespaceAccessory = kvstore.NamespaceAccessory
	NamespaceLedger    = kvstore.NamespaceLedger
)

var (
	// ErrUnknownAncestor is returned by create_state_for when prev_hash is
	// neither the current persisted root nor a saved, tracked snapshot.
	ErrUnknownAncestor = errors.New("storage: prerequisite snapshot not saved")
	// ErrNoSnapshot covers both causes the source conflates per spec.md §9's
	// open question: the block is unknown, or its snapshot isn't cached.
	ErrNoSnapshot = errors.New("storage: snapshot for block has not been saved")
	// ErrAlreadyFinalized is returned when Finalize is called again for the
	// most recently finalized header; other unknown headers get ErrNoSnapshot.
	ErrAlreadyFinalized = errors.New("storage: header already finalized")
)

var (
	cleanHitMeter  = metrics.NewRegisteredMeter("storage/clean/hit", nil)
	cleanMissMeter = metrics.NewRegisteredMeter("storage/clean/miss", nil)
)

// changeSet holds the pending writes for one snapshot across all three
// namespaces. A map entry with a nil value records a deletion — the same
// "nil means deleted, absent means defer to parent" convention the teacher
// uses for account/storage slots in diffLayer.
type changeSet struct {
	state     map[string][]byte
	accessory map[string][]byte
	ledger    map[string][]byte
}

func newChangeSet() *changeSet {
	return &changeSet{
		state:     make(map[string][]byte),
		accessory: make(map[string][]byte),
		ledger:    make(map[string][]byte),
	}
}

func (c *changeSet) forNamespace(ns Namespace) map[string][]byte {
	switch ns {
	case NamespaceState:
		return c.state
	case NamespaceAccessory:
		return c.accessory
	default:
		return c.ledger
	}
}

// ChangeSet is the caller-facing write set passed to SaveChangeSet, keyed by
// plain byte keys; Writes with a nil value record deletions.
type ChangeSet map[string][]byte

// Manager is the Hierarchical Storage Manager of spec.md §4.1.
type Manager struct {
	mu        sync.RWMutex // guards idParent — the "snapshot parent map" of §3/§5
	idParent  map[types.SnapshotID]types.SnapshotID
	layers    map[types.SnapshotID]*changeSet
	saved     map[types.SnapshotID]bool
	dangled   map[types.SnapshotID]bool
	headers   map[types.Hash]*types.Header

	dag  *forkdag.DAG
	root types.Hash // hash of the most recently finalized block

	store *kvstore.Store
	clean *fastcache.Cache // caches persisted reads across all three namespaces
	log   glog.Logger
}

// New constructs a Manager atop an already-open persistent store, with a
// default-sized clean-read cache.
func New(store *kvstore.Store) *Manager {
	return NewWithCleanCache(store, defaultCleanCacheBytes)
}

// NewWithCleanCache is New with an explicit clean-cache size, for deployments
// that want to trade memory for fewer persistent-store reads on the finality
// fast path.
func NewWithCleanCache(store *kvstore.Store, cleanCacheBytes int) *Manager {
	return &Manager{
		idParent: make(map[types.SnapshotID]types.SnapshotID),
		layers:   make(map[types.SnapshotID]*changeSet),
		saved:    make(map[types.SnapshotID]bool),
		dangled:  make(map[types.SnapshotID]bool),
		headers:  make(map[types.Hash]*types.Header),
		dag:      forkdag.New(),
		store:    store,
		clean:    fastcache.New(cleanCacheBytes),
		log:      glog.New("component", "storage"),
	}
}

// CreateBootstrapState allocates the genesis dangled snapshot. Infallible.
func (m *Manager) CreateBootstrapState() types.SnapshotID {
	id := m.dag.AllocDangledID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idParent[id] = 0
	m.dangled[id] = true
	m.layers[id] = newChangeSet()
	return id
}

// CreateStateFor returns the snapshot id for header, allocating one if this
// is the first time header.Hash has been observed. Idempotent.
func (m *Manager) CreateStateFor(header *types.Header) (types.SnapshotID, error) {
	if id, ok := m.dag.Lookup(header.Hash); ok {
		return id, nil
	}
	m.mu.RLock()
	var parentID types.SnapshotID
	var known bool
	switch {
	case header.PrevHash == m.root:
		parentID, known = 0, true
	default:
		if pid, ok := m.dag.Lookup(header.PrevHash); ok && m.saved[pid] {
			parentID, known = pid, true
		}
	}
	m.mu.RUnlock()
	if !known {
		return 0, fmt.Errorf("%w: block %s", ErrUnknownAncestor, header.Hash)
	}

	id := m.dag.AllocID(header.Hash, header.PrevHash)
	m.mu.Lock()
	m.idParent[id] = parentID
	m.layers[id] = newChangeSet()
	m.headers[header.Hash] = header
	m.mu.Unlock()
	return id, nil
}

// CreateStateAfter allocates a dangled read-only view whose parent is the
// snapshot keyed by header.Hash.
func (m *Manager) CreateStateAfter(header *types.Header) (types.SnapshotID, error) {
	parentID, ok := m.dag.Lookup(header.Hash)
	m.mu.RLock()
	saved := ok && m.saved[parentID]
	m.mu.RUnlock()
	if !saved {
		return 0, fmt.Errorf("%w: block %s", ErrNoSnapshot, header.Hash)
	}
	id := m.dag.AllocDangledID()
	m.mu.Lock()
	m.idParent[id] = parentID
	m.dangled[id] = true
	m.layers[id] = newChangeSet()
	m.mu.Unlock()
	return id, nil
}

// SaveChangeSet registers stf/accessory/ledger writes against the snapshot
// keyed by header.Hash.
func (m *Manager) SaveChangeSet(header *types.Header, state, accessory, ledger ChangeSet) error {
	id, ok := m.dag.Lookup(header.Hash)
	if !ok {
		return fmt.Errorf("%w: block %s", ErrUnknownAncestor, header.Hash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.layers[id]
	applyInto(cs.state, state)
	applyInto(cs.accessory, accessory)
	applyInto(cs.ledger, ledger)
	m.saved[id] = true
	m.headers[header.Hash] = header
	return nil
}

func applyInto(dst map[string][]byte, src ChangeSet) {
	for k, v := range src {
		dst[k] = v
	}
}

// Get resolves key in namespace ns starting from snapshot id, walking the
// parent chain under one reader lock held for the whole walk (no I/O while
// locked) and falling through to the persistent store on a full miss.
func (m *Manager) Get(id types.SnapshotID, ns Namespace, key []byte) ([]byte, bool, error) {
	v, hit, found := m.getFromLayers(id, ns, key)
	if found {
		return v, hit, nil
	}

	cacheKey := cacheKeyFor(ns, key)
	if cached, ok := m.clean.HasGet(nil, cacheKey); ok {
		cleanHitMeter.Mark(1)
		return cached, true, nil
	}
	cleanMissMeter.Mark(1)

	v, err := m.store.Get(ns, key)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m.clean.Set(cacheKey, v)
	return v, true, nil
}

// cacheKeyFor namespaces the clean cache's keyspace the same way kvstore
// prefixes its on-disk keys, since one fastcache instance backs all three
// namespaces.
func cacheKeyFor(ns Namespace, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, byte(ns))
	out = append(out, key...)
	return out
}

// getFromLayers walks the in-memory snapshot chain under a single reader
// lock held for the whole walk, per spec.md §5 ("readers hold the reader
// lock for the duration of a single ancestor walk; no I/O occurs under the
// reader lock"). found reports whether the walk resolved the key at all
// (including as a deletion tombstone); if found is false the caller must
// fall through to the persistent store outside the lock.
func (m *Manager) getFromLayers(id types.SnapshotID, ns Namespace, key []byte) (value []byte, present bool, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := id
	for {
		if cs, ok := m.layers[cur]; ok {
			if v, ok := cs.forNamespace(ns)[string(key)]; ok {
				if v == nil {
					return nil, false, true
				}
				return v, true, true
			}
		}
		parent, tracked := m.idParent[cur]
		if !tracked || parent == 0 {
			return nil, false, false
		}
		cur = parent
	}
}

// Finalize commits the snapshot at header.Hash and every unfinalized
// ancestor to persistence, in ancestor-first order, then discards every
// sibling subtree, per spec.md §4.1.
func (m *Manager) Finalize(header *types.Header) error {
	id, ok := m.dag.Lookup(header.Hash)
	if !ok {
		if header.Hash == m.root {
			return fmt.Errorf("%w: block %s", ErrAlreadyFinalized, header.Hash)
		}
		return fmt.Errorf("%w: block %s", ErrNoSnapshot, header.Hash)
	}
	m.mu.RLock()
	saved := m.saved[id]
	m.mu.RUnlock()
	if !saved {
		return fmt.Errorf("%w: block %s", ErrNoSnapshot, header.Hash)
	}

	// Capture the sibling work list before recursing: the recursive
	// Finalize(parentHdr) call below reaches forkdag.Forget on the parent
	// and erases children[parentHash], the very map Siblings reads.
	parentHash, _ := m.dag.Parent(header.Hash)
	siblings := m.dag.Siblings(parentHash, header.Hash)

	// Step 2: recurse into the parent first so the earliest ancestor
	// commits before its descendants.
	if parentHash != (types.Hash{}) {
		m.mu.RLock()
		parentHdr, haveHdr := m.headers[parentHash]
		m.mu.RUnlock()
		if haveHdr {
			pid, ok := m.dag.Lookup(parentHash)
			m.mu.RLock()
			parentSaved := ok && m.saved[pid]
			m.mu.RUnlock()
			if parentSaved {
				if err := m.Finalize(parentHdr); err != nil {
					return err
				}
			}
		}
	}

	// Step 3: remove parent[hash] and hash -> id.
	m.mu.Lock()
	cs := m.layers[id]
	delete(m.idParent, id)
	m.mu.Unlock()
	m.dag.Forget(header.Hash)

	// Step 4: commit id's change sets to persistence.
	if err := m.commit(cs); err != nil {
		return fmt.Errorf("storage: commit %s: %w", header.Hash, err)
	}
	m.mu.Lock()
	delete(m.layers, id)
	delete(m.saved, id)
	delete(m.headers, header.Hash)
	m.mu.Unlock()
	m.root = header.Hash

	// Step 5 & 7: re-point dangled views and remaining children of the
	// newly-committed id so their future reads fall through to persistence.
	m.repointChildren(id, header.Hash)

	// Step 6: drain children[prev_hash] \ {hash} and prune each subtree.
	for s := range siblings.Iter() {
		m.pruneSubtree(s.(types.Hash))
	}
	return nil
}

// repointChildren re-homes every still-tracked dangled or block snapshot
// whose parent was committedID directly onto the persistent store.
func (m *Manager) repointChildren(committedID types.SnapshotID, committedHash types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, pid := range m.idParent {
		if pid == committedID {
			m.idParent[sid] = 0
		}
	}
	_ = committedHash
}

// pruneSubtree discards an abandoned fork rooted at hash: its descendants'
// change sets are dropped (if ever saved) and their bookkeeping removed.
// Dangled views still pointing into the subtree become orphans that fall
// through to persistence — the documented, not corrected, "known problem"
// of spec.md §9.
func (m *Manager) pruneSubtree(hash types.Hash) {
	work := []types.Hash{hash}
	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]
		work = append(work, m.dag.Children(h)...)

		m.mu.Lock()
		if id, ok := m.dag.Lookup(h); ok {
			for sid, pid := range m.idParent {
				if pid == id {
					m.idParent[sid] = 0
				}
			}
			delete(m.idParent, id)
			delete(m.layers, id)
			delete(m.saved, id)
		}
		delete(m.headers, h)
		m.mu.Unlock()
		m.dag.Forget(h)
	}
}

func (m *Manager) commit(cs *changeSet) error {
	if err := m.commitNamespace(NamespaceState, cs.state); err != nil {
		return err
	}
	if err := m.commitNamespace(NamespaceAccessory, cs.accessory); err != nil {
		return err
	}
	return m.commitNamespace(NamespaceLedger, cs.ledger)
}

func (m *Manager) commitNamespace(ns Namespace, writes map[string][]byte) error {
	if len(writes) == 0 {
		return nil
	}
	batch := m.store.NewBatch(ns)
	for k, v := range writes {
		cacheKey := cacheKeyFor(ns, []byte(k))
		if v == nil {
			batch.Delete([]byte(k))
			m.clean.Del(cacheKey)
		} else {
			batch.Put([]byte(k), v)
			m.clean.Set(cacheKey, v)
		}
	}
	return batch.Write()
}

// IsTracked reports whether id is still resolvable, for tests that assert a
// pruned fork's snapshot id is gone (spec.md §8 scenario 2).
func (m *Manager) IsTracked(id types.SnapshotID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idParent[id]
	return ok
}
