// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package gateway

import (
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/model"
	"sync"
)

type ClosedCallback func(id model.ConnectionId)

// Gateway is the part of the transport the protocol engine talks back to.
type Gateway interface {
	// SendFrame writes a frame to the connection. A nil frame is written as a
	// heartbeat (a bare EOL). Fails with model.ErrSendFailed when the
	// connection is unknown or closed. SendFrame must not close the connection
	// or run close callbacks before it returns: the heartbeat pacer calls it
	// while holding the lock its close callback waits on. Implementations
	// should bound the time a write may block.
	SendFrame(id model.ConnectionId, f *frame.Frame) error
	// CloseConnection tears down the connection. Closing an unknown connection is a no-op.
	CloseConnection(id model.ConnectionId)
	// OnConnectionClosed registers a callback invoked once per connection when
	// the transport tears it down, whatever the cause.
	OnConnectionClosed(cb ClosedCallback)
}

// Observers is a concurrency safe list of connection-closed callbacks that
// Gateway implementations can embed.
type Observers struct {
	lock      sync.RWMutex
	callbacks []ClosedCallback
}

func (o *Observers) OnConnectionClosed(cb ClosedCallback) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// Notify calls every registered callback in registration order.
func (o *Observers) Notify(id model.ConnectionId) {
	o.lock.RLock()
	callbacks := make([]ClosedCallback, len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.lock.RUnlock()

	for _, cb := range callbacks {
		cb(id)
	}
}

// NewErrorFrame builds the ERROR frame sent before a connection is closed.
func NewErrorFrame(message string) *frame.Frame {
	return frame.New(frame.ERROR, frame.Message, message)
}
