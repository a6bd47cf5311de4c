// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package login

import (
	"errors"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/gateway/gatewaytest"
	"github.com/vmware/stompgate/model"
	"testing"
)

var (
	conn1 = model.ConnectionId{Host: "10.0.0.1", Port: 5001}
	conn2 = model.ConnectionId{Host: "10.0.0.2", Port: 5002}
)

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Login(login, passcode string) error {
	args := m.Called(login, passcode)
	return args.Error(0)
}

func connectFrame(login, passcode string) *frame.Frame {
	return frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Login, login,
		frame.Passcode, passcode)
}

func newTestGuard() (*Guard, *MockHandler, *gatewaytest.MockGateway) {
	handler := &MockHandler{}
	gw := gatewaytest.NewMockGateway()
	return NewGuard(handler, gw), handler, gw
}

func TestGuard_LoginGate(t *testing.T) {
	g, handler, _ := newTestGuard()
	handler.On("Login", "guest", "secret").Return(nil)
	l := g.Listener()
	send := frame.New(frame.SEND, frame.Destination, "/queue/a")

	result := l.Handle(send, conn1)
	assert.Equal(t, dispatch.Failed, result.Outcome)
	assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn))

	result = l.Handle(connectFrame("guest", "secret"), conn1)
	assert.Equal(t, dispatch.Continue, result.Outcome)
	assert.True(t, g.IsLoggedIn(conn1))

	result = l.Handle(send, conn1)
	assert.Equal(t, dispatch.Continue, result.Outcome)

	result = l.Handle(connectFrame("guest", "secret"), conn1)
	assert.Equal(t, dispatch.Failed, result.Outcome)
	assert.True(t, errors.Is(result.Err, model.ErrAlreadyLoggedIn))

	result = l.Handle(frame.New(frame.DISCONNECT), conn1)
	assert.Equal(t, dispatch.Continue, result.Outcome)
	assert.False(t, g.IsLoggedIn(conn1))

	result = l.Handle(send, conn1)
	assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn))

	handler.AssertNumberOfCalls(t, "Login", 1)
}

func TestGuard_AllAuthenticatedTypes(t *testing.T) {
	g, handler, _ := newTestGuard()
	handler.On("Login", mock.Anything, mock.Anything).Return(nil)
	l := g.Listener()

	for _, mt := range []string{frame.SEND, frame.SUBSCRIBE, frame.UNSUBSCRIBE, frame.ACK,
		frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT} {
		result := l.Handle(frame.New(mt), conn2)
		assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn), mt)
	}

	l.Handle(frame.New(frame.STOMP, frame.Login, "a", frame.Passcode, "b"), conn2)
	for _, mt := range []string{frame.SEND, frame.SUBSCRIBE, frame.UNSUBSCRIBE, frame.ACK,
		frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT} {
		result := l.Handle(frame.New(mt), conn2)
		assert.Equal(t, dispatch.Continue, result.Outcome, mt)
	}
}

func TestGuard_MissingCredentials(t *testing.T) {
	g, handler, gw := newTestGuard()
	l := g.Listener()

	result := l.Handle(frame.New(frame.CONNECT, frame.AcceptVersion, "1.2"), conn1)
	assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn))

	result = l.Handle(connectFrame("guest", ""), conn1)
	assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn))

	assert.False(t, g.IsLoggedIn(conn1))
	assert.Empty(t, gw.Sent())
	handler.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestGuard_SessionTerminated(t *testing.T) {
	g, handler, gw := newTestGuard()
	handler.On("Login", "guest", "wrong").Return(model.NewSessionTerminatedError("bad credentials"))

	result := g.Listener().Handle(connectFrame("guest", "wrong"), conn1)

	assert.Equal(t, dispatch.Halt, result.Outcome)
	assert.False(t, g.IsLoggedIn(conn1))

	sent := gw.SentTo(conn1)
	assert.Len(t, sent, 1)
	assert.Equal(t, frame.ERROR, sent[0].Command)
	assert.Equal(t, "bad credentials", sent[0].Header.Get(frame.Message))
	assert.True(t, gw.IsClosed(conn1))
}

func TestGuard_HandlerErrorIsAFailure(t *testing.T) {
	g, handler, gw := newTestGuard()
	unavailable := errors.New("directory unavailable")
	handler.On("Login", "guest", "secret").Return(unavailable)

	result := g.Listener().Handle(connectFrame("guest", "secret"), conn1)
	assert.Equal(t, dispatch.Failed, result.Outcome)
	assert.True(t, errors.Is(result.Err, model.ErrNotLoggedIn))
	assert.True(t, errors.Is(result.Err, unavailable))
	assert.EqualError(t, result.Err, "not logged in: directory unavailable")
	assert.False(t, g.IsLoggedIn(conn1))
	assert.False(t, gw.IsClosed(conn1))
}

func TestGuard_UnsupportedFrameType(t *testing.T) {
	g, _, _ := newTestGuard()
	for _, mt := range []string{frame.MESSAGE, frame.RECEIPT, frame.ERROR, frame.CONNECTED} {
		result := g.Listener().Handle(frame.New(mt), conn1)
		assert.True(t, errors.Is(result.Err, model.ErrUnsupportedFrameType), mt)
	}
}

func TestGuard_ConnectionClosedCleanup(t *testing.T) {
	g, handler, gw := newTestGuard()
	handler.On("Login", mock.Anything, mock.Anything).Return(nil)

	g.Listener().Handle(connectFrame("guest", "secret"), conn1)
	g.Listener().Handle(connectFrame("guest", "secret"), conn2)
	assert.Equal(t, 2, g.LoggedInCount())

	gw.Notify(conn1)
	gw.Notify(conn1)

	assert.False(t, g.IsLoggedIn(conn1))
	assert.True(t, g.IsLoggedIn(conn2))
	assert.Equal(t, 1, g.LoggedInCount())
}

func TestGuard_DisconnectWithoutLogin(t *testing.T) {
	g, _, _ := newTestGuard()
	result := g.Listener().Handle(frame.New(frame.DISCONNECT), conn1)
	assert.Equal(t, dispatch.Continue, result.Outcome)
	assert.Equal(t, 0, g.LoggedInCount())
}

func TestGuard_HaltsDispatch(t *testing.T) {
	g, handler, _ := newTestGuard()
	handler.On("Login", "guest", "wrong").Return(model.NewSessionTerminatedError("bad credentials"))

	d := dispatch.NewDispatcher()
	d.Register(g.Listener())
	reached := false
	d.Register(dispatch.Listener{
		Name:  "after",
		Types: []model.MessageType{model.Connect},
		Handle: func(*frame.Frame, model.ConnectionId) dispatch.Result {
			reached = true
			return dispatch.Proceed()
		},
	})

	report := d.Dispatch(connectFrame("guest", "wrong"), conn1)
	assert.True(t, report.Halted)
	assert.Equal(t, "login", report.HaltedBy)
	assert.False(t, reached)
}
