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

package da

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
)

// FallbackClient reads from a primary DA client, falling back to a secondary
// on transient failure; every write (SendTransaction, SendAggregatedZKProof)
// goes only to the primary, since resubmitting against a different DA layer
// would change which chain the transaction actually lands on. Grounded on
// the hits/misses primary/secondary key-value store that relayed reads
// between two backing databases.
type FallbackClient struct {
	primary   Client
	secondary Client
	hits      int64
	misses    int64
}

func NewFallbackClient(primary, secondary Client) *FallbackClient {
	return &FallbackClient{primary: primary, secondary: secondary}
}

// Efficiency reports how often the primary answered a read versus how often
// the read fell through to the secondary.
func (db *FallbackClient) Efficiency() (hits, misses int64) {
	return atomic.LoadInt64(&db.hits), atomic.LoadInt64(&db.misses)
}

func (db *FallbackClient) readThrough(primaryErr error) bool {
	var transient *TransientError
	if errors.As(primaryErr, &transient) {
		atomic.AddInt64(&db.misses, 1)
		return true
	}
	return false
}

func (db *FallbackClient) GetHeadBlockHeader(ctx context.Context) (*types.Header, error) {
	h, err := db.primary.GetHeadBlockHeader(ctx)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return h, nil
	}
	if !db.readThrough(err) {
		return nil, err
	}
	return db.secondary.GetHeadBlockHeader(ctx)
}

func (db *FallbackClient) GetLastFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	h, err := db.primary.GetLastFinalizedBlockHeader(ctx)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return h, nil
	}
	if !db.readThrough(err) {
		return nil, err
	}
	return db.secondary.GetLastFinalizedBlockHeader(ctx)
}

func (db *FallbackClient) GetBlockAt(ctx context.Context, height uint64) (*FilteredBlock, error) {
	b, err := db.primary.GetBlockAt(ctx, height)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return b, nil
	}
	if !db.readThrough(err) {
		return nil, err
	}
	return db.secondary.GetBlockAt(ctx, height)
}

func (db *FallbackClient) ExtractRelevantBlobs(ctx context.Context, block *FilteredBlock) ([]kernel.RawBlob, []kernel.RawBlob, error) {
	batch, proof, err := db.primary.ExtractRelevantBlobs(ctx, block)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return batch, proof, nil
	}
	if !db.readThrough(err) {
		return nil, nil, err
	}
	return db.secondary.ExtractRelevantBlobs(ctx, block)
}

func (db *FallbackClient) GetExtractionProof(ctx context.Context, block *FilteredBlock, blobs [][]byte) (*ExtractionProof, error) {
	p, err := db.primary.GetExtractionProof(ctx, block, blobs)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return p, nil
	}
	if !db.readThrough(err) {
		return nil, err
	}
	return db.secondary.GetExtractionProof(ctx, block, blobs)
}

func (db *FallbackClient) SendTransaction(ctx context.Context, payload []byte, fee Fee) (TxID, error) {
	return db.primary.SendTransaction(ctx, payload, fee)
}

func (db *FallbackClient) SendAggregatedZKProof(ctx context.Context, payload []byte, fee Fee) (TxID, error) {
	return db.primary.SendAggregatedZKProof(ctx, payload, fee)
}

func (db *FallbackClient) SubscribeFinalizedHeader(ctx context.Context) (<-chan *types.Header, error) {
	ch, err := db.primary.SubscribeFinalizedHeader(ctx)
	if err == nil {
		return ch, nil
	}
	if !db.readThrough(err) {
		return nil, err
	}
	return db.secondary.SubscribeFinalizedHeader(ctx)
}

func (db *FallbackClient) EstimateFee(ctx context.Context, blobSize int) (Fee, error) {
	f, err := db.primary.EstimateFee(ctx, blobSize)
	if err == nil {
		atomic.AddInt64(&db.hits, 1)
		return f, nil
	}
	if !db.readThrough(err) {
		return Fee{}, err
	}
	return db.secondary.EstimateFee(ctx, blobSize)
}

var _ Client = (*FallbackClient)(nil)
