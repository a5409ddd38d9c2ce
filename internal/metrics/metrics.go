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

// Package metrics is the repo's ambient metrics registry, mirroring the
// teacher's own metrics package: components declare package-level meters,
// counters and timers with NewRegistered*, and a reporter periodically
// flushes the default registry to a backend.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Enabled mirrors the teacher's metrics.Enabled switch. Nothing in this
// package reads it: NewRegistered* always returns real instruments.
var Enabled = false

type Meter interface {
	Mark(n int64)
	Count() int64
}

type Counter interface {
	Inc(n int64)
	Dec(n int64)
	Count() int64
}

type Timer interface {
	UpdateSince(startNanos int64)
	Count() int64
}

type meter struct{ count int64 }

func (m *meter) Mark(n int64) { atomic.AddInt64(&m.count, n) }
func (m *meter) Count() int64 { return atomic.LoadInt64(&m.count) }

type counter struct{ count int64 }

func (c *counter) Inc(n int64)  { atomic.AddInt64(&c.count, n) }
func (c *counter) Dec(n int64)  { atomic.AddInt64(&c.count, -n) }
func (c *counter) Count() int64 { return atomic.LoadInt64(&c.count) }

type timer struct {
	count int64
	total int64
}

func (t *timer) UpdateSince(startNanos int64) {
	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.total, nowNanos()-startNanos)
}
func (t *timer) Count() int64 { return atomic.LoadInt64(&t.count) }

// nowNanos is indirected so tests can stub it; defaults to the wall clock.
var nowNanos = func() int64 { return time.Now().UnixNano() }

type registry struct {
	mu    sync.RWMutex
	items map[string]interface{}
}

var defaultRegistry = &registry{items: make(map[string]interface{})}

// NewRegisteredMeter returns the named meter, creating and registering it on
// first use. A nil registry argument registers against the default registry,
// matching the teacher's metrics.NewRegisteredMeter(name, nil) call sites.
func NewRegisteredMeter(name string, r *registry) Meter {
	if r == nil {
		r = defaultRegistry
	}
	return r.getOrCreate(name, func() interface{} { return &meter{} }).(Meter)
}

func NewRegisteredCounter(name string, r *registry) Counter {
	if r == nil {
		r = defaultRegistry
	}
	return r.getOrCreate(name, func() interface{} { return &counter{} }).(Counter)
}

func NewRegisteredTimer(name string, r *registry) Timer {
	if r == nil {
		r = defaultRegistry
	}
	return r.getOrCreate(name, func() interface{} { return &timer{} }).(Timer)
}

func (r *registry) getOrCreate(name string, zero func() interface{}) interface{} {
	r.mu.RLock()
	if v, ok := r.items[name]; ok {
		r.mu.RUnlock()
		return v
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[name]; ok {
		return v
	}
	v := zero()
	r.items[name] = v
	return v
}

// Snapshot returns a point-in-time copy of every registered counter value,
// keyed by name, for the reporter to push.
func Snapshot() map[string]int64 {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()

	out := make(map[string]int64, len(defaultRegistry.items))
	for name, v := range defaultRegistry.items {
		switch m := v.(type) {
		case Meter:
			out[name] = m.Count()
		case Counter:
			out[name] = m.Count()
		case Timer:
			out[name] = m.Count()
		}
	}
	return out
}
