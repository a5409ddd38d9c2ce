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

// Package mockda is an in-memory da.Client used by tests and local
// development, the way the teacher ships in-memory ethdb implementations
// (relaydb, memorydb) alongside its real backends.
package mockda

import (
	"context"
	"fmt"
	"sync"

	"github.com/rollstack/core/core/da"
	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
)

// Block is one appended DA block: a header plus the raw blobs the mock
// classifies into kernel.RawBlob on extraction.
type Block struct {
	Header types.Header
	Blobs  []kernel.RawBlob
}

// DA is a goroutine-safe, append-only in-memory DA chain.
type DA struct {
	mu sync.Mutex

	blocks    []Block
	finalized int // index into blocks, -1 if none

	subs []chan *types.Header
}

func New() *DA {
	return &DA{finalized: -1}
}

// Append adds a new DA block to the head of the chain.
func (d *DA) Append(header types.Header, blobs []kernel.RawBlob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = append(d.blocks, Block{Header: header, Blobs: blobs})
}

// Finalize marks every block up to and including height as finalized and
// notifies subscribers.
func (d *DA) Finalize(height uint64) {
	d.mu.Lock()
	var hdr *types.Header
	for i, b := range d.blocks {
		if b.Header.Height == height {
			d.finalized = i
			hdr = &d.blocks[i].Header
			break
		}
	}
	subs := append([]chan *types.Header{}, d.subs...)
	d.mu.Unlock()

	if hdr == nil {
		return
	}
	for _, s := range subs {
		select {
		case s <- hdr:
		default:
			// slow consumer dropped, matching spec.md §5's broadcast semantics.
		}
	}
}

func (d *DA) GetHeadBlockHeader(ctx context.Context) (*types.Header, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.blocks) == 0 {
		return nil, &da.PermanentError{Op: "get_head_block_header", Err: fmt.Errorf("no blocks")}
	}
	h := d.blocks[len(d.blocks)-1].Header
	return &h, nil
}

func (d *DA) GetLastFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized < 0 {
		return nil, &da.PermanentError{Op: "get_last_finalized_block_header", Err: fmt.Errorf("no finalized block")}
	}
	h := d.blocks[d.finalized].Header
	return &h, nil
}

// GetBlockAt returns the most recently appended block at height, so that a
// reorg can be simulated by appending a new block at a height this mock
// already served — the later append becomes the canonical one, the way a
// real DA layer's view of a height changes across a reorg.
func (d *DA) GetBlockAt(ctx context.Context, height uint64) (*da.FilteredBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.blocks) - 1; i >= 0; i-- {
		b := d.blocks[i]
		if b.Header.Height == height {
			fb := &da.FilteredBlock{Header: b.Header}
			for _, blob := range b.Blobs {
				fb.Blobs = append(fb.Blobs, blob.Payload)
			}
			return fb, nil
		}
	}
	return nil, &da.PermanentError{Op: "get_block_at", Err: fmt.Errorf("unknown height %d", height)}
}

func (d *DA) ExtractRelevantBlobs(ctx context.Context, block *da.FilteredBlock) ([]kernel.RawBlob, []kernel.RawBlob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.blocks {
		if b.Header.Hash == block.Header.Hash {
			return b.Blobs, nil, nil
		}
	}
	return nil, nil, &da.PermanentError{Op: "extract_relevant_blobs", Err: fmt.Errorf("unknown block %s", block.Header.Hash)}
}

func (d *DA) GetExtractionProof(ctx context.Context, block *da.FilteredBlock, blobs [][]byte) (*da.ExtractionProof, error) {
	return &da.ExtractionProof{Inclusion: []byte("mock-inclusion"), Completeness: []byte("mock-completeness")}, nil
}

func (d *DA) SendTransaction(ctx context.Context, payload []byte, fee da.Fee) (da.TxID, error) {
	h := types.HashBytes(payload)
	return da.TxID(h[:]), nil
}

func (d *DA) SendAggregatedZKProof(ctx context.Context, payload []byte, fee da.Fee) (da.TxID, error) {
	h := types.HashBytes(payload)
	return da.TxID(h[:]), nil
}

func (d *DA) SubscribeFinalizedHeader(ctx context.Context) (<-chan *types.Header, error) {
	ch := make(chan *types.Header, 16)
	d.mu.Lock()
	d.subs = append(d.subs, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *DA) EstimateFee(ctx context.Context, blobSize int) (da.Fee, error) {
	return da.Fee{Amount: uint64(blobSize), Denom: "mock"}, nil
}
