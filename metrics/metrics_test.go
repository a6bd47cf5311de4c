// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package metrics

import (
	"errors"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/engine"
	"github.com/vmware/stompgate/gateway/gatewaytest"
	"github.com/vmware/stompgate/login"
	"github.com/vmware/stompgate/model"
	"testing"
)

var conn1 = model.ConnectionId{Host: "10.0.0.1", Port: 5001}

type testSessions struct {
	engine *engine.Engine
	open   int
}

func (s *testSessions) ConnectionCount() int {
	return s.open
}

func (s *testSessions) Engine() *engine.Engine {
	return s.engine
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	assert.Nil(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestFrameMetrics_Listener(t *testing.T) {
	m, err := NewFrameMetrics(prometheus.NewRegistry())
	assert.Nil(t, err)

	l := m.Listener()
	assert.Equal(t, "metrics", l.Name)
	assert.Len(t, l.Types, len(model.AllMessageTypes()))

	l.Handle(frame.New(frame.SEND), conn1)
	l.Handle(frame.New(frame.SEND), conn1)
	assert.Equal(t, dispatch.Continue, l.Handle(frame.New(frame.CONNECT), conn1).Outcome)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.frames.WithLabelValues(frame.SEND)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.frames.WithLabelValues(frame.CONNECT)))
}

func TestFrameMetrics_Observer(t *testing.T) {
	m, err := NewFrameMetrics(prometheus.NewRegistry())
	assert.Nil(t, err)

	m.MalformedFrame(conn1)
	m.ListenerFailed("login", errors.New("boom"))
	m.ListenerFailed("login", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.malformed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.listenerFailures.WithLabelValues("login")))
}

func TestFrameMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewFrameMetrics(reg)
	assert.Nil(t, err)
	_, err = NewFrameMetrics(reg)
	assert.NotNil(t, err)
}

func TestFrameMetrics_WiredIntoEngine(t *testing.T) {
	m, err := NewFrameMetrics(prometheus.NewRegistry())
	assert.Nil(t, err)

	gw := gatewaytest.NewMockGateway()
	e := engine.NewEngine(gw, login.HandlerFunc(func(l, p string) error { return nil }), engine.WithObserver(m))
	defer e.Close()
	e.AddListener(m.Listener())

	e.Process(conn1, "SEND\ndestination:/a\n\n\x00")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.frames.WithLabelValues(frame.SEND)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.listenerFailures.WithLabelValues("login")))

	e.Process(model.ConnectionId{Host: "10.0.0.2", Port: 1}, "BOGUS\n\n\x00")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.malformed))
}

func TestRegisterSessionGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	gw := gatewaytest.NewMockGateway()
	e := engine.NewEngine(gw, login.HandlerFunc(func(l, p string) error { return nil }), engine.WithHeartbeat(1000))
	defer e.Close()

	src := &testSessions{engine: e, open: 3}
	assert.Nil(t, RegisterSessionGauges(reg, src))

	e.Process(conn1, "CONNECT\nlogin:a\npasscode:b\nheart-beat:0,1000\n\n\x00")

	assert.Equal(t, float64(3), gaugeValue(t, reg, "stompgate_open_connections"))
	assert.Equal(t, float64(1), gaugeValue(t, reg, "stompgate_logged_in_connections"))
	assert.Equal(t, float64(1), gaugeValue(t, reg, "stompgate_active_pacers"))

	gw.Notify(conn1)
	assert.Equal(t, float64(0), gaugeValue(t, reg, "stompgate_logged_in_connections"))
	assert.Equal(t, float64(0), gaugeValue(t, reg, "stompgate_active_pacers"))

	assert.NotNil(t, RegisterSessionGauges(reg, src))
}
