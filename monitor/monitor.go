// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package monitor

import (
	"github.com/vmware/stompgate/engine"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"sync"
)

// MonitorStream exposes a channel to listen for session events.
type MonitorStream struct {
	Stream chan *MonitorEvent
	lock   sync.Mutex // prevent concurrent writes to stream
}

func NewMonitorStream(size int) *MonitorStream {
	return &MonitorStream{Stream: make(chan *MonitorEvent, size)}
}

// SendMonitorEvent is non-blocking, events are dropped when no-one keeps up with the stream.
func (m *MonitorStream) SendMonitorEvent(evt *MonitorEvent) {
	m.lock.Lock()
	defer m.lock.Unlock()
	select {
	case m.Stream <- evt:
	default:
		// channel full, no-one listening, drop.
	}
}

// ConnectionClosed can be registered as a gateway close callback.
func (m *MonitorStream) ConnectionClosed(id model.ConnectionId) {
	m.SendMonitorEvent(NewMonitorEvent(ConnectionClosedEvt, id, "", nil))
}

func (m *MonitorStream) MalformedFrame(id model.ConnectionId) {
	m.SendMonitorEvent(NewMonitorEvent(MalformedFrameEvt, id, "", nil))
}

func (m *MonitorStream) ListenerFailed(listener string, err error) {
	m.SendMonitorEvent(NewMonitorEvent(ListenerFailedEvt, model.ConnectionId{}, listener, err))
}

var _ engine.Observer = (*MonitorStream)(nil)

// LogEvents writes every event to the debug log until done is closed.
func (m *MonitorStream) LogEvents(done <-chan struct{}) {
	for {
		select {
		case evt := <-m.Stream:
			switch evt.EventType {
			case ConnectionClosedEvt:
				log.Log.WithConnection(evt.Connection).Debug("session ended")
			case MalformedFrameEvt:
				log.Log.WithConnection(evt.Connection).Debug("malformed frame received")
			case ListenerFailedEvt:
				log.Log.WithField("listener", evt.Listener).WithError(evt.Err).Debug("listener failed")
			}
		case <-done:
			return
		}
	}
}
