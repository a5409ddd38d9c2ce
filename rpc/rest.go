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

// Package rpc exposes the ledger's slot queries over REST (httprouter) and
// GraphQL, and one live stream, finalized headers, over a websocket. There
// is no new-slot stream and no aggregated-proof stream.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/rollstack/core/core/ledger"
	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
)

func decodeHashParam(s string) types.Hash {
	b, _ := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	return types.BytesToHash(b)
}

// Server bundles the ledger query surface the REST handlers serve.
type Server struct {
	ledger *ledger.Store
	log    glog.Logger
}

func NewServer(l *ledger.Store) *Server {
	return &Server{ledger: l, log: glog.New("component", "rpc")}
}

// Router builds the httprouter mux: one handler per route, each selecting
// spec.md §6's Compact/Standard/Full mode from the "mode" query parameter.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/v1/slots/:height", s.handleGetSlot)
	r.GET("/v1/slots/by-hash/:hash", s.handleGetSlotByHash)
	return r
}

func parseMode(req *http.Request) ledger.QueryMode {
	switch req.URL.Query().Get("mode") {
	case "standard":
		return ledger.Standard
	case "full":
		return ledger.Full
	default:
		return ledger.Compact
	}
}

func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	height, err := strconv.ParseUint(ps.ByName("height"), 10, 64)
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}
	resp, err := s.ledger.GetSlotByHeight(height, parseMode(r))
	s.writeSlot(w, resp, err)
}

func (s *Server) handleGetSlotByHash(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	hash := decodeHashParam(ps.ByName("hash"))
	resps, err := s.ledger.GetSlots([]ledger.SlotIdentifier{{Hash: &hash}}, parseMode(r))
	var resp *ledger.SlotResponse
	if err == nil && len(resps) == 1 {
		resp = resps[0]
	}
	s.writeSlot(w, resp, err)
}

func (s *Server) writeSlot(w http.ResponseWriter, resp *ledger.SlotResponse, err error) {
	if err == ledger.ErrNotFound {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("rpc: query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
