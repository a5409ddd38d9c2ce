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
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rollstack/core/core/types"
	"github.com/rollstack/core/internal/glog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FinalizedSlotWatch exposes a finalized-header subscription (such as
// runner.Runner.SubscribeFinalized) as a websocket stream. The subscription
// is a bounded queue: when a slow client's queue is full, newer headers are
// dropped for that client.
type FinalizedSlotWatch struct {
	subscribe func() <-chan *types.Header
	log       glog.Logger
}

func NewFinalizedSlotWatch(subscribe func() <-chan *types.Header) *FinalizedSlotWatch {
	return &FinalizedSlotWatch{subscribe: subscribe, log: glog.New("component", "rpc-ws")}
}

func (f *FinalizedSlotWatch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	headers := f.subscribe()
	for h := range headers {
		if err := conn.WriteJSON(headerJSON(h)); err != nil {
			return
		}
	}
}

type headerView struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

func headerJSON(h *types.Header) headerView {
	return headerView{Height: h.Height, Hash: h.Hash.String()}
}
