// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package model

import (
	"errors"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"net"
	"testing"
)

func TestConnectionId_FromAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 61613}
	id := NewConnectionId(addr)

	assert.Equal(t, ConnectionId{Host: "10.0.0.7", Port: 61613}, id)
	assert.Equal(t, "10.0.0.7:61613", id.String())
	assert.Equal(t, id, NewConnectionId(addr))
}

func TestConnectionId_PipeAddrIsUnique(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	id1 := NewConnectionId(a.RemoteAddr())
	id2 := NewConnectionId(b.RemoteAddr())
	assert.NotEqual(t, id1, id2)
	assert.NotEmpty(t, id1.Host)
}

func TestParseConnectionId(t *testing.T) {
	id, err := ParseConnectionId("[::1]:8080")
	assert.Nil(t, err)
	assert.Equal(t, ConnectionId{Host: "::1", Port: 8080}, id)

	_, err = ParseConnectionId("localhost")
	assert.NotNil(t, err)
	_, err = ParseConnectionId("localhost:http")
	assert.NotNil(t, err)
}

func TestParseMessageType(t *testing.T) {
	mt, ok := ParseMessageType("SEND")
	assert.True(t, ok)
	assert.Equal(t, Send, mt)

	_, ok = ParseMessageType("send")
	assert.False(t, ok)
	_, ok = ParseMessageType("PUBLISH")
	assert.False(t, ok)

	assert.True(t, IsMessageTypePrefix(""))
	assert.True(t, IsMessageTypePrefix("SUB"))
	assert.True(t, IsMessageTypePrefix("DISCONNECT"))
	assert.False(t, IsMessageTypePrefix("SX"))
	assert.Len(t, AllMessageTypes(), 15)
}

func TestMessageType_Classification(t *testing.T) {
	assert.True(t, Connect.IsHandshake())
	assert.True(t, Stomp.IsHandshake())
	assert.False(t, Send.IsHandshake())

	for _, mt := range []MessageType{Send, Subscribe, Unsubscribe, Ack, Nack, Begin, Commit, Abort} {
		assert.True(t, mt.RequiresLogin(), mt.String())
	}
	for _, mt := range []MessageType{Connect, Stomp, Disconnect, Message, Receipt, Error, Connected} {
		assert.False(t, mt.RequiresLogin(), mt.String())
	}
}

func TestErrors(t *testing.T) {
	wrapped := fmt.Errorf("%w: bad first line", ErrMalformedFrame)
	assert.True(t, errors.Is(wrapped, ErrMalformedFrame))
	assert.False(t, errors.Is(wrapped, ErrNotLoggedIn))

	var err error = NewSessionTerminatedError("user %s is locked", "guest")
	assert.True(t, errors.Is(err, ErrSessionTerminated))
	assert.Equal(t, "user guest is locked", err.Error())

	var ste *SessionTerminatedError
	assert.True(t, errors.As(fmt.Errorf("login: %w", err), &ste))
	assert.Equal(t, "user guest is locked", ste.Reason)

	assert.Equal(t, "session terminated", (&SessionTerminatedError{}).Error())
}

func TestDecodeConnectHeader(t *testing.T) {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, "broker",
		frame.Login, "guest",
		frame.Passcode, "secret",
		frame.HeartBeat, "10000,5000")
	f.Header.Add(frame.Login, "ignored")

	h, err := DecodeConnectHeader(f)
	assert.Nil(t, err)
	assert.Equal(t, "guest", h.Login)
	assert.Equal(t, "secret", h.Passcode)
	assert.Equal(t, "broker", h.Host)
	assert.True(t, h.HasCredentials())

	cx, cy, err := h.HeartBeatMs()
	assert.Nil(t, err)
	assert.EqualValues(t, 10000, cx)
	assert.EqualValues(t, 5000, cy)
}

func TestDecodeConnectHeader_NoHeartBeat(t *testing.T) {
	h, err := DecodeConnectHeader(frame.New(frame.STOMP, frame.Login, "guest"))
	assert.Nil(t, err)
	assert.False(t, h.HasCredentials())

	cx, cy, err := h.HeartBeatMs()
	assert.Nil(t, err)
	assert.EqualValues(t, 0, cx)
	assert.EqualValues(t, 0, cy)

	h.HeartBeat = "ten,five"
	_, _, err = h.HeartBeatMs()
	assert.NotNil(t, err)
}
