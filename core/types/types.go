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

// Package types holds the data model shared by the storage manager, the
// blob kernel and the runner: block headers, snapshot identifiers, state
// transitions and receipts.
package types

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashLength is the width of a Hash in bytes.
const HashLength = 32

// Hash identifies a block or a piece of content by digest.
type Hash [HashLength]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) IsZero() bool   { return h == Hash{} }

// BytesToHash right-aligns b into a Hash, truncating on overflow.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HashBytes returns the Keccak-256 digest of the concatenated inputs, the
// same digest the teacher uses throughout to derive header/account hashes.
func HashBytes(parts ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		d.Write(p)
	}
	return BytesToHash(d.Sum(nil))
}

// ValidityCondition is an opaque, STF-defined proof obligation attached to a
// slot (e.g. "all blobs referenced were available"). The core never
// interprets its contents, only threads it to the ProofManager.
type ValidityCondition []byte

// GasInfo carries the STF's gas accounting for a processed slot.
type GasInfo struct {
	GasUsed  uint64
	GasLimit uint64
}

// Header is the ordered triple (height, prev_hash, hash) plus auxiliary
// fields required by spec.md §3. Invariant: PrevHash != Hash.
type Header struct {
	Height    uint64
	PrevHash  Hash
	Hash      Hash
	Time      uint64
	Validity  ValidityCondition
}

// SnapshotID is a monotonically-increasing, process-unique snapshot
// identifier allocated by the storage manager.
type SnapshotID uint64

// InvalidSnapshotID is never allocated (the id counter starts at 1). The
// storage manager uses 0 as a parent id meaning "no in-memory parent: read
// through to the persistent store".
const InvalidSnapshotID SnapshotID = 0

// Witness is the opaque, STF-defined artifact handed from apply_slot to the
// ProofManager once a transition finalizes.
type Witness []byte

// StateTransition records the outcome of executing one block, queued in the
// seen-transitions FIFO until its height falls at or below finality.
type StateTransition struct {
	SlotHash         Hash
	Height           uint64
	PrevHash         Hash
	InitialStateRoot Hash
	PostStateRoot    Hash
	Validity         ValidityCondition
	Gas              GasInfo
	Witness          Witness
}

// TransitionInProgress describes a transition about to be attempted. The
// runner does not record it; only completed StateTransitions are queued.
type TransitionInProgress struct {
	SlotHash Hash
	Height   uint64
	PrevHash Hash
}

// BatchOutcome classifies how a sequencer's batch fared through admission
// and execution, per spec.md §7.
type BatchOutcome int

const (
	BatchRewarded BatchOutcome = iota
	BatchNotRewardable
	BatchIgnored
	BatchSlashed
)

func (o BatchOutcome) String() string {
	switch o {
	case BatchRewarded:
		return "Rewarded"
	case BatchNotRewardable:
		return "NotRewardable"
	case BatchIgnored:
		return "Ignored"
	case BatchSlashed:
		return "Slashed"
	default:
		return "Unknown"
	}
}

// BatchReceipt is produced exactly once per blob in a slot, admitted or not.
type BatchReceipt struct {
	Sender  Hash
	Outcome BatchOutcome
	Reason  string
	SeqNum  uint64
}

// TxOutcome classifies how an individual transaction within a batch fared.
type TxOutcome int

const (
	TxSuccessful TxOutcome = iota
	TxReverted
	TxSkipped
)

// TxReceipt is produced once per transaction inside a processed batch.
type TxReceipt struct {
	Outcome    TxOutcome
	Error      string
	SkipReason string
	GasUsed    uint64
	Events     [][]byte
}

func (r TxReceipt) String() string {
	switch r.Outcome {
	case TxSuccessful:
		return fmt.Sprintf("Successful(gas=%d)", r.GasUsed)
	case TxReverted:
		return fmt.Sprintf("Reverted(%s)", r.Error)
	default:
		return fmt.Sprintf("Skipped(%s)", r.SkipReason)
	}
}
