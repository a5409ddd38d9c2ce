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

// Package da defines the abstract contract the core holds against a data
// availability layer (spec.md §6) and a retrying wrapper that keeps
// transient failures from ever reaching state-manager logic.
package da

import (
	"context"
	"fmt"

	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
)

// TransientError wraps a DA failure expected to clear on retry: timeouts,
// 5xx responses, a decode mismatch scoped to one call.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("da: transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a DA failure the runner must not retry: an unknown
// block, a malformed header, a protocol violation.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("da: permanent: %s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Fee is the DA layer's opaque cost quote for posting a payload.
type Fee struct {
	Amount uint64
	Denom  string
}

// TxID identifies a transaction submitted to the DA layer.
type TxID []byte

// FilteredBlock is the raw DA block content relevant to this rollup: a
// header plus every blob whose namespace the rollup subscribes to.
type FilteredBlock struct {
	Header types.Header
	Blobs  [][]byte
}

// ExtractionProof attests that the blobs extracted from a FilteredBlock are
// both included in and complete for the block's namespace.
type ExtractionProof struct {
	Inclusion   []byte
	Completeness []byte
}

// Client is the abstract DA service contract of spec.md §6. Concrete
// wire-format adapters are out of scope (spec.md §1 Non-goals); this
// interface is what the runner and kernel program against.
type Client interface {
	GetHeadBlockHeader(ctx context.Context) (*types.Header, error)
	GetLastFinalizedBlockHeader(ctx context.Context) (*types.Header, error)
	GetBlockAt(ctx context.Context, height uint64) (*FilteredBlock, error)
	ExtractRelevantBlobs(ctx context.Context, block *FilteredBlock) (batchBlobs, proofBlobs []kernel.RawBlob, err error)
	GetExtractionProof(ctx context.Context, block *FilteredBlock, blobs [][]byte) (*ExtractionProof, error)
	SendTransaction(ctx context.Context, payload []byte, fee Fee) (TxID, error)
	SendAggregatedZKProof(ctx context.Context, payload []byte, fee Fee) (TxID, error)
	SubscribeFinalizedHeader(ctx context.Context) (<-chan *types.Header, error)
	EstimateFee(ctx context.Context, blobSize int) (Fee, error)
}
