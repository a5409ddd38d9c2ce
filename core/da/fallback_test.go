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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/da/mockda"
	"github.com/rollstack/core/core/types"
)

type failingClient struct {
	Client
	err error
}

func (f *failingClient) GetHeadBlockHeader(ctx context.Context) (*types.Header, error) {
	return nil, f.err
}

func TestFallbackReadsSecondaryOnTransientError(t *testing.T) {
	secondary := mockda.New()
	secondary.Append(types.Header{Height: 1}, nil)

	primary := &failingClient{err: &TransientError{Op: "GetHeadBlockHeader", Err: errors.New("timeout")}}
	fb := NewFallbackClient(primary, secondary)

	h, err := fb.GetHeadBlockHeader(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.Height)

	_, misses := fb.Efficiency()
	require.Equal(t, int64(1), misses)
}

func TestFallbackPropagatesPermanentError(t *testing.T) {
	primary := &failingClient{err: &PermanentError{Op: "GetHeadBlockHeader", Err: errors.New("bad request")}}
	fb := NewFallbackClient(primary, mockda.New())

	_, err := fb.GetHeadBlockHeader(context.Background())
	require.Error(t, err)
	var perm *PermanentError
	require.True(t, errors.As(err, &perm))
}
