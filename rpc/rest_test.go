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

package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/ledger"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/kvstore"
)

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	kv, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return ledger.New(ledger.Config{MaxSlotsPerRequest: 10, MaxBatchesPerRequest: 10, MaxTransactionsPerRequest: 10, MaxEventsPerRequest: 10}, kv)
}

func TestHandleGetSlotByHeight(t *testing.T) {
	l := newTestLedger(t)
	h := types.BytesToHash([]byte("slot-7"))
	require.NoError(t, l.RecordFinalized(&types.StateTransition{Height: 7, SlotHash: h}))

	srv := NewServer(l)
	req := httptest.NewRequest(http.MethodGet, "/v1/slots/7", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ledger.SlotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, h, resp.Hash)
}

func TestHandleGetSlotNotFound(t *testing.T) {
	l := newTestLedger(t)
	srv := NewServer(l)
	req := httptest.NewRequest(http.MethodGet, "/v1/slots/99", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetSlotInvalidHeight(t *testing.T) {
	l := newTestLedger(t)
	srv := NewServer(l)
	req := httptest.NewRequest(http.MethodGet, "/v1/slots/not-a-number", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetSlotByHash(t *testing.T) {
	l := newTestLedger(t)
	h := types.BytesToHash([]byte("slot-by-hash"))
	require.NoError(t, l.RecordFinalized(&types.StateTransition{Height: 3, SlotHash: h}))

	srv := NewServer(l)
	req := httptest.NewRequest(http.MethodGet, "/v1/slots/by-hash/"+h.String(), nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ledger.SlotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, uint64(3), resp.Height)
}
