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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollstack/core/core/types"
)

func TestGraphQLSlotQuery(t *testing.T) {
	l := newTestLedger(t)
	h := types.BytesToHash([]byte("gql-slot"))
	require.NoError(t, l.RecordFinalized(&types.StateTransition{Height: 5, SlotHash: h}))

	handler, err := NewGraphQLHandler(l)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"query": `{ slot(height: 5) { height hash } }`,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Data struct {
			Slot struct {
				Height float64
				Hash   string
			}
		}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, float64(5), out.Data.Slot.Height)
	require.Equal(t, h.String(), out.Data.Slot.Hash)
}

func TestGraphQLSlotNotFound(t *testing.T) {
	l := newTestLedger(t)
	handler, err := NewGraphQLHandler(l)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"query": `{ slot(height: 404) { height } }`,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Data struct {
			Slot *struct{ Height float64 }
		}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Nil(t, out.Data.Slot)
}
