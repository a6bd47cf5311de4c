// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package transaction

import (
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"sync"
)

type Option func(t *Tracker)

// WithSessionCheck ignores frames from connections the check rejects. Those
// frames are already refused by the login guard.
func WithSessionCheck(loggedIn func(id model.ConnectionId) bool) Option {
	return func(t *Tracker) {
		t.loggedIn = loggedIn
	}
}

// Tracker keeps the transactions each connection has begun and not yet
// committed or aborted.
type Tracker struct {
	loggedIn func(id model.ConnectionId) bool
	lock     sync.Mutex
	open     map[model.ConnectionId]map[string]struct{}
}

func NewTracker(gw gateway.Gateway, opts ...Option) *Tracker {
	t := &Tracker{
		open: make(map[model.ConnectionId]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	gw.OnConnectionClosed(t.connectionClosed)
	return t
}

// Listener validates BEGIN, COMMIT and ABORT frames as well as the
// transaction header of SEND, ACK and NACK frames.
func (t *Tracker) Listener() dispatch.Listener {
	return dispatch.Listener{
		Name: "transaction",
		Types: []model.MessageType{
			model.Begin, model.Commit, model.Abort,
			model.Send, model.Ack, model.Nack,
			model.Disconnect,
		},
		Accepts: func(f *frame.Frame) bool {
			switch f.Command {
			case frame.SEND, frame.ACK, frame.NACK:
				_, ok := f.Header.Contains(frame.Transaction)
				return ok
			}
			return true
		},
		Handle: t.handle,
	}
}

func (t *Tracker) handle(f *frame.Frame, id model.ConnectionId) dispatch.Result {
	if f.Command == frame.DISCONNECT {
		t.forget(id)
		return dispatch.Proceed()
	}
	if t.loggedIn != nil && !t.loggedIn(id) {
		return dispatch.Proceed()
	}

	tx := f.Header.Get(frame.Transaction)
	if tx == "" {
		return dispatch.Fail(fmt.Errorf("%w: %s frame has no transaction header", model.ErrInvalidTransaction, f.Command))
	}

	switch f.Command {
	case frame.BEGIN:
		if !t.begin(id, tx) {
			return dispatch.Fail(fmt.Errorf("%w: transaction %s already started", model.ErrInvalidTransaction, tx))
		}
		log.Log.WithConnection(id).Debugf("transaction %s started", tx)
	case frame.COMMIT, frame.ABORT:
		if !t.end(id, tx) {
			return dispatch.Fail(fmt.Errorf("%w: transaction %s has not been started", model.ErrInvalidTransaction, tx))
		}
		log.Log.WithConnection(id).Debugf("transaction %s ended with %s", tx, f.Command)
	default:
		if !t.IsOpen(id, tx) {
			return dispatch.Fail(fmt.Errorf("%w: transaction %s has not been started", model.ErrInvalidTransaction, tx))
		}
	}
	return dispatch.Proceed()
}

func (t *Tracker) begin(id model.ConnectionId, tx string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	txs, ok := t.open[id]
	if !ok {
		txs = make(map[string]struct{})
		t.open[id] = txs
	}
	if _, started := txs[tx]; started {
		return false
	}
	txs[tx] = struct{}{}
	return true
}

func (t *Tracker) end(id model.ConnectionId, tx string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	txs, ok := t.open[id]
	if !ok {
		return false
	}
	if _, started := txs[tx]; !started {
		return false
	}
	delete(txs, tx)
	if len(txs) == 0 {
		delete(t.open, id)
	}
	return true
}

// IsOpen reports whether the connection has begun tx and not ended it.
func (t *Tracker) IsOpen(id model.ConnectionId, tx string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.open[id][tx]
	return ok
}

// OpenCount returns the number of open transactions of a connection.
func (t *Tracker) OpenCount(id model.ConnectionId) int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.open[id])
}

func (t *Tracker) forget(id model.ConnectionId) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if txs, ok := t.open[id]; ok && len(txs) > 0 {
		log.Log.WithConnection(id).Debugf("discarding %d open transactions", len(txs))
	}
	delete(t.open, id)
}

func (t *Tracker) connectionClosed(id model.ConnectionId) {
	t.forget(id)
}
