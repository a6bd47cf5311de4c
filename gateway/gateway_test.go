// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package gateway

import (
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/vmware/stompgate/model"
	"testing"
)

func TestObservers_NotifyInOrder(t *testing.T) {
	obs := &Observers{}
	var calls []string
	id := model.ConnectionId{Host: "127.0.0.1", Port: 4000}

	obs.OnConnectionClosed(func(closed model.ConnectionId) {
		assert.Equal(t, id, closed)
		calls = append(calls, "first")
	})
	obs.OnConnectionClosed(func(closed model.ConnectionId) {
		calls = append(calls, "second")
	})

	obs.Notify(id)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestObservers_CallbackMayRegister(t *testing.T) {
	obs := &Observers{}
	count := 0
	obs.OnConnectionClosed(func(model.ConnectionId) {
		count++
		obs.OnConnectionClosed(func(model.ConnectionId) { count += 10 })
	})

	obs.Notify(model.ConnectionId{})
	assert.Equal(t, 1, count)
	obs.Notify(model.ConnectionId{})
	assert.Equal(t, 12, count)
}

func TestNewErrorFrame(t *testing.T) {
	f := NewErrorFrame("not logged in")
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Equal(t, "not logged in", f.Header.Get(frame.Message))
}
