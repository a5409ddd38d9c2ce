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
	"time"

	"golang.org/x/time/rate"

	"github.com/rollstack/core/core/kernel"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
	"github.com/rollstack/core/internal/metrics"
)

var retryMeter = metrics.NewRegisteredMeter("da/retry", nil)

// RetryConfig bounds the retrying wrapper's backoff pacing.
type RetryConfig struct {
	MaxAttempts int
	// BackoffRate paces retries the way the teacher paces discovery/devp2p
	// redials with golang.org/x/time/rate, rather than a hand-rolled sleep
	// loop.
	BackoffRate  rate.Limit
	BackoffBurst int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BackoffRate: rate.Every(200 * time.Millisecond), BackoffBurst: 1}
}

// RetryingClient wraps a Client, retrying transient errors and surfacing
// permanent errors immediately, matching spec.md §7's taxonomy: transient DA
// failures never reach state-manager logic.
type RetryingClient struct {
	inner Client
	cfg   RetryConfig
	limit *rate.Limiter
	log   glog.Logger
}

// NewRetryingClient wraps inner with the retry/backoff policy of cfg.
func NewRetryingClient(inner Client, cfg RetryConfig) *RetryingClient {
	return &RetryingClient{
		inner: inner,
		cfg:   cfg,
		limit: rate.NewLimiter(cfg.BackoffRate, cfg.BackoffBurst),
		log:   glog.New("component", "da-retry"),
	}
}

func (c *RetryingClient) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.limit.Wait(ctx); err != nil {
				return err
			}
			retryMeter.Mark(1)
		}
		err := fn()
		if err == nil {
			return nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
		c.log.Warn("retrying transient DA failure", "op", op, "attempt", attempt, "error", err)
	}
	return lastErr
}

func (c *RetryingClient) GetHeadBlockHeader(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := c.retry(ctx, "get_head_block_header", func() error {
		var err error
		out, err = c.inner.GetHeadBlockHeader(ctx)
		return err
	})
	return out, err
}

func (c *RetryingClient) GetLastFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := c.retry(ctx, "get_last_finalized_block_header", func() error {
		var err error
		out, err = c.inner.GetLastFinalizedBlockHeader(ctx)
		return err
	})
	return out, err
}

func (c *RetryingClient) GetBlockAt(ctx context.Context, height uint64) (*FilteredBlock, error) {
	var out *FilteredBlock
	err := c.retry(ctx, "get_block_at", func() error {
		var err error
		out, err = c.inner.GetBlockAt(ctx, height)
		return err
	})
	return out, err
}

func (c *RetryingClient) ExtractRelevantBlobs(ctx context.Context, block *FilteredBlock) ([]kernel.RawBlob, []kernel.RawBlob, error) {
	var batch, proof []kernel.RawBlob
	err := c.retry(ctx, "extract_relevant_blobs", func() error {
		var err error
		batch, proof, err = c.inner.ExtractRelevantBlobs(ctx, block)
		return err
	})
	return batch, proof, err
}

func (c *RetryingClient) GetExtractionProof(ctx context.Context, block *FilteredBlock, blobs [][]byte) (*ExtractionProof, error) {
	var out *ExtractionProof
	err := c.retry(ctx, "get_extraction_proof", func() error {
		var err error
		out, err = c.inner.GetExtractionProof(ctx, block, blobs)
		return err
	})
	return out, err
}

// SendTransaction and SendAggregatedZKProof are not retried blindly: a
// transient failure here may or may not have landed on-chain, so the caller
// (runner) decides whether to resubmit. This wrapper only forwards them.
func (c *RetryingClient) SendTransaction(ctx context.Context, payload []byte, fee Fee) (TxID, error) {
	return c.inner.SendTransaction(ctx, payload, fee)
}

func (c *RetryingClient) SendAggregatedZKProof(ctx context.Context, payload []byte, fee Fee) (TxID, error) {
	return c.inner.SendAggregatedZKProof(ctx, payload, fee)
}

func (c *RetryingClient) SubscribeFinalizedHeader(ctx context.Context) (<-chan *types.Header, error) {
	return c.inner.SubscribeFinalizedHeader(ctx)
}

func (c *RetryingClient) EstimateFee(ctx context.Context, blobSize int) (Fee, error) {
	var out Fee
	err := c.retry(ctx, "estimate_fee", func() error {
		var err error
		out, err = c.inner.EstimateFee(ctx, blobSize)
		return err
	})
	return out, err
}
