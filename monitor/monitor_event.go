// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package monitor

import "github.com/vmware/stompgate/model"

const (
	ConnectionClosedEvt int = 0
	MalformedFrameEvt   int = 1
	ListenerFailedEvt   int = 2
)

type MonitorEvent struct {
	EventType  int
	Connection model.ConnectionId
	Listener   string
	Err        error
}

// Create a new monitor event
func NewMonitorEvent(evtType int, id model.ConnectionId, listener string, err error) *MonitorEvent {
	return &MonitorEvent{EventType: evtType, Connection: id, Listener: listener, Err: err}
}
