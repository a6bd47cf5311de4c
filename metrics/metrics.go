// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package metrics

import (
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/engine"
	"github.com/vmware/stompgate/model"
)

// FrameMetrics counts dispatched frames and the failures the engine handles.
type FrameMetrics struct {
	frames           *prometheus.CounterVec
	malformed        prometheus.Counter
	listenerFailures *prometheus.CounterVec
}

func NewFrameMetrics(reg prometheus.Registerer) (*FrameMetrics, error) {
	m := &FrameMetrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stompgate_frames_total",
				Help: "Frames dispatched, by command",
			},
			[]string{"command"}),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stompgate_malformed_frames_total",
				Help: "Connections closed because of malformed input",
			}),
		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stompgate_listener_failures_total",
				Help: "Listener failures, by listener",
			},
			[]string{"listener"}),
	}

	for _, c := range []prometheus.Collector{m.frames, m.malformed, m.listenerFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Listener counts every frame it sees and never interferes with dispatch.
func (m *FrameMetrics) Listener() dispatch.Listener {
	return dispatch.Listener{
		Name:  "metrics",
		Types: model.AllMessageTypes(),
		Handle: func(f *frame.Frame, id model.ConnectionId) dispatch.Result {
			m.frames.WithLabelValues(f.Command).Inc()
			return dispatch.Proceed()
		},
	}
}

func (m *FrameMetrics) MalformedFrame(id model.ConnectionId) {
	m.malformed.Inc()
}

func (m *FrameMetrics) ListenerFailed(listener string, err error) {
	m.listenerFailures.WithLabelValues(listener).Inc()
}

var _ engine.Observer = (*FrameMetrics)(nil)

// SessionSource is the view of a running server the session gauges read from.
type SessionSource interface {
	ConnectionCount() int
	Engine() *engine.Engine
}

// RegisterSessionGauges exports the open connection, logged in and paced
// connection counts of src.
func RegisterSessionGauges(reg prometheus.Registerer, src SessionSource) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "stompgate_open_connections",
				Help: "Open transport connections",
			},
			func() float64 { return float64(src.ConnectionCount()) }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "stompgate_logged_in_connections",
				Help: "Connections with a successful login",
			},
			func() float64 { return float64(src.Engine().Guard().LoggedInCount()) }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "stompgate_active_pacers",
				Help: "Connections receiving heart-beats",
			},
			func() float64 { return float64(src.Engine().Pacer().ActiveCount()) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
