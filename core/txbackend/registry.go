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

// Package txbackend is the kernel's sender registry: stake, preferred-sender
// and slashing bookkeeping, keyed by sender hash behind a single mutex the
// same way the teacher's in-memory transaction backend guards its slice.
package txbackend

import (
	"sync"

	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
)

type senderRecord struct {
	stake     uint64
	preferred bool
	slashed   bool
}

// MemoryRegistry is an in-memory kernel.Registry. It has no persistence: a
// restart forgets every slash and registration, acceptable for the reference
// daemon wiring but not for a production deployment backed by the storage
// manager's accessory namespace.
type MemoryRegistry struct {
	mu   sync.RWMutex
	data map[types.Hash]*senderRecord
	log  glog.Logger
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		data: make(map[types.Hash]*senderRecord),
		log:  glog.New("component", "registry"),
	}
}

// Grant sets a sender's staked amount, creating the record if absent.
func (m *MemoryRegistry) Grant(sender types.Hash, stake uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record(sender)
	r.stake = stake
}

// SetPreferred marks a sender as the preferred sequencer.
func (m *MemoryRegistry) SetPreferred(sender types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(sender).preferred = true
}

func (m *MemoryRegistry) record(sender types.Hash) *senderRecord {
	r, ok := m.data[sender]
	if !ok {
		r = &senderRecord{}
		m.data[sender] = r
	}
	return r
}

func (m *MemoryRegistry) Stake(sender types.Hash) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[sender]
	if !ok {
		return 0, false
	}
	return r.stake, true
}

func (m *MemoryRegistry) IsPreferredSender(sender types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[sender]
	return ok && r.preferred && !r.slashed
}

func (m *MemoryRegistry) IsSlashed(sender types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[sender]
	return ok && r.slashed
}

func (m *MemoryRegistry) Slash(sender types.Hash, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(sender).slashed = true
	m.log.Warn("sender slashed", "sender", sender, "reason", reason)
}

// RegisterSequencer admits a previously-unregistered sender mid-slot, per
// the kernel's forced-registration path.
func (m *MemoryRegistry) RegisterSequencer(sender types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(sender)
}

var _ kernel.Registry = (*MemoryRegistry)(nil)
