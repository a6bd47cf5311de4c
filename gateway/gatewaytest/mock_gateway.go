// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/model"
	"sync"
)

// SentFrame records a frame handed to the gateway. Frame is nil for heartbeats.
type SentFrame struct {
	Id    model.ConnectionId
	Frame *frame.Frame
}

// MockGateway keeps every sent frame and closed connection in memory. Connections
// listed with Fail reject sends with model.ErrSendFailed.
type MockGateway struct {
	gateway.Observers

	lock    sync.Mutex
	sent    []SentFrame
	closed  []model.ConnectionId
	failing map[model.ConnectionId]bool
	sentCh  chan SentFrame
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		failing: make(map[model.ConnectionId]bool),
		sentCh:  make(chan SentFrame, 1024),
	}
}

func (g *MockGateway) SendFrame(id model.ConnectionId, f *frame.Frame) error {
	g.lock.Lock()
	if g.failing[id] {
		g.lock.Unlock()
		return fmt.Errorf("%w: %s is closed", model.ErrSendFailed, id)
	}
	sf := SentFrame{Id: id, Frame: f}
	g.sent = append(g.sent, sf)
	g.lock.Unlock()

	select {
	case g.sentCh <- sf:
	default:
	}
	return nil
}

// CloseConnection records the close and fires the close notification like a real transport.
func (g *MockGateway) CloseConnection(id model.ConnectionId) {
	g.lock.Lock()
	g.closed = append(g.closed, id)
	g.failing[id] = true
	g.lock.Unlock()

	g.Notify(id)
}

// Fail makes every subsequent send to id fail.
func (g *MockGateway) Fail(id model.ConnectionId) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.failing[id] = true
}

// Sent returns a copy of all frames sent so far.
func (g *MockGateway) Sent() []SentFrame {
	g.lock.Lock()
	defer g.lock.Unlock()
	sent := make([]SentFrame, len(g.sent))
	copy(sent, g.sent)
	return sent
}

// SentTo returns the frames sent to a single connection.
func (g *MockGateway) SentTo(id model.ConnectionId) []*frame.Frame {
	var frames []*frame.Frame
	for _, sf := range g.Sent() {
		if sf.Id == id {
			frames = append(frames, sf.Frame)
		}
	}
	return frames
}

// HeartbeatsTo counts the heartbeats sent to a connection.
func (g *MockGateway) HeartbeatsTo(id model.ConnectionId) int {
	count := 0
	for _, f := range g.SentTo(id) {
		if f == nil {
			count++
		}
	}
	return count
}

// Closed returns the connections closed so far.
func (g *MockGateway) Closed() []model.ConnectionId {
	g.lock.Lock()
	defer g.lock.Unlock()
	closed := make([]model.ConnectionId, len(g.closed))
	copy(closed, g.closed)
	return closed
}

// IsClosed reports whether CloseConnection was called for id.
func (g *MockGateway) IsClosed(id model.ConnectionId) bool {
	for _, c := range g.Closed() {
		if c == id {
			return true
		}
	}
	return false
}

// SentChannel emits every sent frame, for tests that wait on asynchronous sends.
func (g *MockGateway) SentChannel() <-chan SentFrame {
	return g.sentCh
}
