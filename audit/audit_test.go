// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package audit

import (
	"encoding/json"
	"errors"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/model"
	"testing"
	"time"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

var conn1 = model.ConnectionId{Host: "10.0.0.1", Port: 5001}

func newTestAuditor(p Publisher, types ...model.MessageType) *Auditor {
	a := NewAuditor(p, "audit", types)
	a.now = func() time.Time { return time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC) }
	return a
}

func TestAuditor_Listener(t *testing.T) {
	a := newTestAuditor(&MockPublisher{}, model.Send, model.Subscribe)
	l := a.Listener()
	assert.Equal(t, "audit", l.Name)
	assert.Equal(t, []model.MessageType{model.Send, model.Subscribe}, l.Types)
}

func TestAuditor_PublishesEvent(t *testing.T) {
	p := &MockPublisher{}
	var published amqp.Publishing
	p.On("Publish", "audit", "send", false, false, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(4).(amqp.Publishing) }).
		Return(nil)

	a := newTestAuditor(p, model.Send)
	f := frame.New(frame.SEND, frame.Destination, "/queue/a", frame.Destination, "/queue/b")
	f.Body = []byte("hello")

	assert.Equal(t, dispatch.Proceed(), a.Listener().Handle(f, conn1))
	p.AssertExpectations(t)

	assert.Equal(t, "application/json", published.ContentType)
	assert.Equal(t, amqp.Persistent, published.DeliveryMode)

	var event Event
	assert.Nil(t, json.Unmarshal(published.Body, &event))
	assert.Equal(t, "10.0.0.1:5001", event.Connection)
	assert.Equal(t, frame.SEND, event.Command)
	assert.Equal(t, map[string]string{"destination": "/queue/a"}, event.Headers)
	assert.Equal(t, "hello", event.Body)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), event.Timestamp)
}

func TestAuditor_RedactsPasscode(t *testing.T) {
	p := &MockPublisher{}
	p.On("Publish", "audit", "connect", false, false, mock.Anything).Return(nil)

	a := newTestAuditor(p, model.Connect)
	a.Listener().Handle(frame.New(frame.CONNECT, frame.Login, "guest", frame.Passcode, "secret"), conn1)

	msg := p.Calls[0].Arguments.Get(4).(amqp.Publishing)
	var event Event
	assert.Nil(t, json.Unmarshal(msg.Body, &event))
	assert.Equal(t, "guest", event.Headers[frame.Login])
	assert.Equal(t, redacted, event.Headers[frame.Passcode])
	assert.NotContains(t, string(msg.Body), "secret")
}

func TestAuditor_PublishFailure(t *testing.T) {
	p := &MockPublisher{}
	p.On("Publish", "audit", "send", false, false, mock.Anything).Return(amqp.ErrClosed)

	a := newTestAuditor(p, model.Send)
	result := a.Listener().Handle(frame.New(frame.SEND), conn1)

	assert.Equal(t, dispatch.Failed, result.Outcome)
	assert.True(t, errors.Is(result.Err, amqp.ErrClosed))
}

func TestAuditor_FailureDoesNotStopDispatch(t *testing.T) {
	p := &MockPublisher{}
	p.On("Publish", mock.Anything, mock.Anything, false, false, mock.Anything).Return(errors.New("broker down"))

	d := dispatch.NewDispatcher()
	assert.Nil(t, d.Register(newTestAuditor(p, model.Send).Listener()))

	seen := false
	d.Register(dispatch.Listener{
		Name:  "app",
		Types: []model.MessageType{model.Send},
		Handle: func(f *frame.Frame, id model.ConnectionId) dispatch.Result {
			seen = true
			return dispatch.Proceed()
		},
	})

	report := d.Dispatch(frame.New(frame.SEND), conn1)
	assert.True(t, seen)
	assert.False(t, report.Halted)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, "audit", report.Errors[0].Listener)
}

func TestDial_InvalidUrl(t *testing.T) {
	conn, ch, err := Dial("not-a-url", "audit")
	assert.Nil(t, conn)
	assert.Nil(t, ch)
	assert.NotNil(t, err)
}
