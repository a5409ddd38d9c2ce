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

// Package kernel implements the Blob Selection & Sequencing Kernel: the
// deterministic per-slot admission and ordering policy that turns a raw DA
// blob stream into the ordered (batch, sender) list the Slot Execution
// Pipeline feeds to the STF.
package kernel

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/metrics"
)

// Mode is the kernel's current sequencing strategy, selected fresh each slot.
type Mode int

const (
	ModeBased Mode = iota
	ModePreferred
	ModeRecovery
)

func (m Mode) String() string {
	switch m {
	case ModePreferred:
		return "preferred"
	case ModeRecovery:
		return "recovery"
	default:
		return "based"
	}
}

// SenderClass is the outcome of classifying a raw blob's sender.
type SenderClass int

const (
	ClassRegistered SenderClass = iota
	ClassPreferred
	ClassInsufficientStake
	ClassUnregistered
)

// RawBlob is one DA-ordered blob observed in the current slot.
type RawBlob struct {
	Sender  types.Hash
	Class   SenderClass
	Payload []byte
}

// PreferredPayload is the deserialized shape of a preferred-sender blob.
type PreferredPayload struct {
	SequenceNumber    uint64
	SlotsToAdvance    uint64
	Payload           []byte
}

// Registry is the sequencer-registration and staking authority the kernel
// consults and mutates; implemented elsewhere against the ledger/state.
type Registry interface {
	Stake(sender types.Hash) (uint64, bool)
	IsPreferredSender(sender types.Hash) bool
	IsSlashed(sender types.Hash) bool
	Slash(sender types.Hash, reason string)
	RegisterSequencer(sender types.Hash)
}

// PreferredDeserializer turns a preferred sender's raw blob into its typed
// payload; returns an error when the blob is malformed.
type PreferredDeserializer func(raw []byte) (*PreferredPayload, error)

// ExecutionItem is one (batch, sender) pair the kernel hands to the STF, in
// the order it must be applied.
type ExecutionItem struct {
	Sender  types.Hash
	Payload []byte
}

var (
	slashMeter    = metrics.NewRegisteredMeter("kernel/slash", nil)
	discardMeter  = metrics.NewRegisteredMeter("kernel/discard", nil)
	deferredMeter = metrics.NewRegisteredMeter("kernel/deferred", nil)
)

type deferredEntry struct {
	slot uint64
	item ExecutionItem
}

// Kernel holds the cross-slot state of spec.md §4.3: the virtual/true slot
// counters, the preferred sequencer's next expected sequence number, the
// mode, and the bounded deferred-blob buffers.
type Kernel struct {
	cfg Config

	registry     Registry
	deserializer PreferredDeserializer

	mode               Mode
	virtualSlot        uint64
	nextSequenceNumber uint64
	recoveryActive     bool

	// preferredSeqDeferred holds preferred blobs that arrived with a
	// sequence number ahead of nextSequenceNumber, keyed by that number;
	// small by construction since the preferred sender drives it alone.
	preferredSeqDeferred map[uint64]PreferredPayload

	// nonPreferred is the bounded FIFO-ish buffer for deferred regular
	// blobs, backed by an LRU cache the way the teacher backs its
	// general-purpose bounded caches across eth/ with hashicorp/golang-lru.
	// Insertion order is recovered via Keys(), which golang-lru returns
	// oldest-first; overflow evicts the oldest entry rather than growing
	// unboundedly, matching spec.md §5's back-pressure model.
	nonPreferred *lru.Cache
	nextTicket   uint64

	log glog.Logger
}

// Config carries the two compile-time constants of spec.md §4.3/§6.
type Config struct {
	DeferredSlotsCount      uint64
	UnregisteredBlobsPerSlot uint64
	// BlobsPerSlotEstimate sizes the deferred non-preferred buffer:
	// capacity = DeferredSlotsCount * BlobsPerSlotEstimate.
	BlobsPerSlotEstimate uint64
}

// New constructs a Kernel in Based mode with an empty deferred buffer.
func New(cfg Config, registry Registry, deserializer PreferredDeserializer) (*Kernel, error) {
	capacity := int(cfg.DeferredSlotsCount * cfg.BlobsPerSlotEstimate)
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &Kernel{
		cfg:                  cfg,
		registry:              registry,
		deserializer:          deserializer,
		mode:                  ModeBased,
		preferredSeqDeferred:  make(map[uint64]PreferredPayload),
		nonPreferred:          cache,
		log:                   glog.New("component", "kernel"),
	}, nil
}

// Mode reports the kernel's current sequencing strategy.
func (k *Kernel) Mode() Mode { return k.mode }

// VirtualSlot reports the height the STF believes it is executing at.
func (k *Kernel) VirtualSlot() uint64 { return k.virtualSlot }

// SlotResult is the outcome of processing one DA slot: the ordered items to
// execute plus one BatchReceipt per admitted-or-rejected blob.
type SlotResult struct {
	Items       []ExecutionItem
	Receipts    []types.BatchReceipt
	VirtualSlot uint64
}

// ProcessSlot classifies and orders blobs for trueSlot, advances the
// virtual slot clock, and returns the execution order plus receipts.
func (k *Kernel) ProcessSlot(trueSlot uint64, blobs []RawBlob) *SlotResult {
	k.selectMode()

	result := &SlotResult{}
	var preferredItem *ExecutionItem
	var slotsToAdvance uint64 = 1
	var unregisteredAdmitted uint64

	var nonPreferredThisSlot []ExecutionItem

	for _, b := range blobs {
		switch b.Class {
		case ClassInsufficientStake:
			discardMeter.Mark(1)
			result.Receipts = append(result.Receipts, types.BatchReceipt{
				Sender: b.Sender, Outcome: types.BatchIgnored, Reason: "stake",
			})

		case ClassRegistered:
			nonPreferredThisSlot = append(nonPreferredThisSlot, ExecutionItem{Sender: b.Sender, Payload: b.Payload})
			result.Receipts = append(result.Receipts, types.BatchReceipt{
				Sender: b.Sender, Outcome: types.BatchRewarded,
			})

		case ClassPreferred:
			payload, err := k.deserializer(b.Payload)
			if err != nil {
				slashMeter.Mark(1)
				k.registry.Slash(b.Sender, "malformed preferred blob")
				k.mode = ModeRecovery
				k.recoveryActive = true
				result.Receipts = append(result.Receipts, types.BatchReceipt{
					Sender: b.Sender, Outcome: types.BatchSlashed, Reason: "deserialize",
				})
				continue
			}
			switch {
			case payload.SequenceNumber == k.nextSequenceNumber:
				item := ExecutionItem{Sender: b.Sender, Payload: payload.Payload}
				preferredItem = &item
				if payload.SlotsToAdvance > slotsToAdvance {
					slotsToAdvance = payload.SlotsToAdvance
				}
				k.nextSequenceNumber++
				result.Receipts = append(result.Receipts, types.BatchReceipt{
					Sender: b.Sender, Outcome: types.BatchRewarded, SeqNum: payload.SequenceNumber,
				})
			case payload.SequenceNumber > k.nextSequenceNumber:
				k.preferredSeqDeferred[payload.SequenceNumber] = *payload
				result.Receipts = append(result.Receipts, types.BatchReceipt{
					Sender: b.Sender, Outcome: types.BatchIgnored, Reason: "future sequence number", SeqNum: payload.SequenceNumber,
				})
			default:
				result.Receipts = append(result.Receipts, types.BatchReceipt{
					Sender: b.Sender, Outcome: types.BatchIgnored, Reason: "stale sequence number", SeqNum: payload.SequenceNumber,
				})
			}

		case ClassUnregistered:
			if unregisteredAdmitted >= k.cfg.UnregisteredBlobsPerSlot {
				discardMeter.Mark(1)
				result.Receipts = append(result.Receipts, types.BatchReceipt{
					Sender: b.Sender, Outcome: types.BatchIgnored, Reason: "unregistered quota exceeded",
				})
				continue
			}
			unregisteredAdmitted++
			// Forced registration takes effect mid-slot: the sender is
			// immediately eligible as a registered sequencer for any later
			// blob in this same slot, per SPEC_FULL.md §10.3.
			k.registry.RegisterSequencer(b.Sender)
			result.Receipts = append(result.Receipts, types.BatchReceipt{
				Sender: b.Sender, Outcome: types.BatchNotRewardable,
			})
		}
	}

	oldVirtual := k.virtualSlot
	switch k.mode {
	case ModeRecovery:
		slotsToAdvance = 2
		if k.virtualSlot+slotsToAdvance >= trueSlot {
			slotsToAdvance = trueSlot - k.virtualSlot
			k.recoveryActive = false
		}
	case ModePreferred:
		if preferredItem == nil {
			slotsToAdvance = 0
			if k.cfg.DeferredSlotsCount == 0 || k.virtualSlot+k.cfg.DeferredSlotsCount <= trueSlot {
				slotsToAdvance = 1
			}
		}
	case ModeBased:
		slotsToAdvance = 1
	}

	// Never overshoot the real chain head.
	if maxAdvance := trueSlot - k.virtualSlot + 1; slotsToAdvance > maxAdvance {
		slotsToAdvance = maxAdvance
	}
	k.virtualSlot += slotsToAdvance

	if preferredItem != nil {
		result.Items = append(result.Items, *preferredItem)
	}

	// Drain any preferred-sequencer blobs that were deferred by earlier
	// slots and have now become the next expected sequence number.
	for {
		next, ok := k.preferredSeqDeferred[k.nextSequenceNumber]
		if !ok {
			break
		}
		delete(k.preferredSeqDeferred, k.nextSequenceNumber)
		k.nextSequenceNumber++
		result.Items = append(result.Items, ExecutionItem{Payload: next.Payload})
	}

	// Drain the non-preferred deferred buffer for every slot in
	// [oldVirtual, new virtual slot).
	result.Items = append(result.Items, k.drainDeferred(oldVirtual, k.virtualSlot)...)

	// This slot's own non-preferred blobs: execute now if the virtual slot
	// has caught up to (or passed) the true slot, otherwise defer them.
	if k.virtualSlot >= trueSlot {
		result.Items = append(result.Items, nonPreferredThisSlot...)
	} else {
		for _, item := range nonPreferredThisSlot {
			k.deferItem(trueSlot, item)
		}
	}

	result.VirtualSlot = k.virtualSlot
	return result
}

// selectMode re-derives the operating mode for the upcoming slot, per
// spec.md §4.3's three-mode state machine. Recovery, once entered, persists
// until caught up; there is no transition back to Preferred.
func (k *Kernel) selectMode() {
	if k.recoveryActive {
		k.mode = ModeRecovery
		return
	}
	if k.cfg.DeferredSlotsCount == 0 {
		k.mode = ModeBased
		return
	}
	if k.mode == ModeRecovery {
		// caught up last call; fall through to based sequencing per the
		// state diagram's Recovery -> Based edge.
		k.mode = ModeBased
		return
	}
}

// SetPreferredActive switches the kernel into Preferred mode. The runner does
// not call it; whatever configures a preferred sequencer calls it directly.
func (k *Kernel) SetPreferredActive() {
	if !k.recoveryActive {
		k.mode = ModePreferred
	}
}

func (k *Kernel) deferItem(slot uint64, item ExecutionItem) {
	ticket := k.nextTicket
	k.nextTicket++
	k.nonPreferred.Add(ticket, deferredEntry{slot: slot, item: item})
	deferredMeter.Mark(1)
}

// drainDeferred removes and returns every buffered non-preferred item whose
// deferring slot falls in [from, to), in original insertion order.
func (k *Kernel) drainDeferred(from, to uint64) []ExecutionItem {
	var out []ExecutionItem
	for _, key := range k.nonPreferred.Keys() {
		v, ok := k.nonPreferred.Peek(key)
		if !ok {
			continue
		}
		entry := v.(deferredEntry)
		if entry.slot >= from && entry.slot < to {
			out = append(out, entry.item)
			k.nonPreferred.Remove(key)
		}
	}
	return out
}
