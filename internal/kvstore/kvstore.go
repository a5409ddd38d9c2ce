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

// Package kvstore implements the persistent, immutable-after-commit
// key-value database that backs the three logical namespaces of spec.md §6:
// state, accessory and ledger. It namespaces a single LevelDB instance by a
// one-byte column-family prefix, the way the teacher's rawdb freezer tables
// and ancient-store keys are namespaced over a single on-disk database.
package kvstore

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/rollstack/core/internal/glog"
)

// Namespace identifies one of the three column families.
type Namespace byte

const (
	NamespaceState Namespace = iota
	NamespaceAccessory
	NamespaceLedger
)

// Batch accumulates writes for a single namespace to be committed atomically.
type Batch struct {
	ns  Namespace
	b   *leveldb.Batch
	db  *Store
	n   int
}

// Put stages a key/value write.
func (b *Batch) Put(key, value []byte) {
	b.b.Put(prefixed(b.ns, key), value)
	b.n++
}

// Delete stages a key deletion.
func (b *Batch) Delete(key []byte) {
	b.b.Delete(prefixed(b.ns, key))
	b.n++
}

// Len reports the number of staged operations.
func (b *Batch) Len() int { return b.n }

// Write flushes the batch to disk.
func (b *Batch) Write() error { return b.db.ldb.Write(b.b, nil) }

// Reset clears the staged operations for reuse.
func (b *Batch) Reset() { b.b.Reset(); b.n = 0 }

// ChangeSet is a collection of puts/deletes against one namespace that
// Commit applies atomically. The storage manager's finalize does not use it;
// it writes through NewBatch directly.
type ChangeSet struct {
	Namespace Namespace
	Puts      map[string][]byte
	Deletes   map[string]struct{}
}

func NewChangeSet(ns Namespace) *ChangeSet {
	return &ChangeSet{Namespace: ns, Puts: make(map[string][]byte), Deletes: make(map[string]struct{})}
}

func (c *ChangeSet) Put(key, value []byte) {
	delete(c.Deletes, string(key))
	c.Puts[string(key)] = value
}

func (c *ChangeSet) Delete(key []byte) {
	delete(c.Puts, string(key))
	c.Deletes[string(key)] = struct{}{}
}

// Store is the persistent, three-column-family key-value database.
type Store struct {
	ldb *leveldb.DB
	log glog.Logger
}

// Open opens (creating if missing) the LevelDB instance at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{ldb: db, log: glog.New("component", "kvstore")}, nil
}

// OpenInMemory opens a store backed by memory only; used by tests.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{ldb: db, log: glog.New("component", "kvstore")}, nil
}

func (s *Store) Close() error { return s.ldb.Close() }

func prefixed(ns Namespace, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(ns))
	out = append(out, key...)
	return out
}

// Get reads a single key from the given namespace. A miss returns
// leveldb.ErrNotFound, mirroring the teacher's ethdb.KeyValueStore contract.
func (s *Store) Get(ns Namespace, key []byte) ([]byte, error) {
	return s.ldb.Get(prefixed(ns, key), nil)
}

func (s *Store) Has(ns Namespace, key []byte) (bool, error) {
	return s.ldb.Has(prefixed(ns, key), nil)
}

// NewBatch returns an empty batch scoped to a single namespace.
func (s *Store) NewBatch(ns Namespace) *Batch {
	return &Batch{ns: ns, b: new(leveldb.Batch), db: s}
}

// Commit atomically applies a ChangeSet to the store.
func (s *Store) Commit(cs *ChangeSet) error {
	b := s.NewBatch(cs.Namespace)
	for k, v := range cs.Puts {
		b.Put([]byte(k), v)
	}
	for k := range cs.Deletes {
		b.Delete([]byte(k))
	}
	if b.Len() == 0 {
		return nil
	}
	return b.Write()
}

// Iterate returns an iterator over every key with the given prefix inside a
// namespace, ordered lexicographically, the way the teacher's rawdb iterates
// account/storage snapshot ranges. The returned keys are still namespace
// prefixed; callers strip the leading column-family byte.
func (s *Store) Iterate(ns Namespace, prefix []byte) iterator.Iterator {
	return s.ldb.NewIterator(util.BytesPrefix(prefixed(ns, prefix)), nil)
}
