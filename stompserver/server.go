// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

import (
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/engine"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/heartbeat"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/login"
	"github.com/vmware/stompgate/model"
	"sync"
	"sync/atomic"
	"time"
)

const serverName = "stompgate/1.0"

type StompServer interface {
	gateway.Gateway
	// starts accepting connections, blocks until the server is stopped
	Start()
	// stops the server and closes all open connections
	Stop()
	// registers an application listener, invoked after the built-in ones
	AddListener(l dispatch.Listener) error
	// number of open connections
	ConnectionCount() int
	// the protocol engine shared by all connections
	Engine() *engine.Engine
}

type stompServer struct {
	gateway.Observers

	connectionListener RawConnectionListener
	config             StompConfig
	engine             *engine.Engine
	running            int32
	lock               sync.RWMutex
	connections        map[model.ConnectionId]*stompConn
	wg                 sync.WaitGroup
}

// NewStompServer creates a server accepting connections from listener.
// Logins are checked with handler; extra engine options (observers, a custom
// parser) are applied after the ones derived from config.
func NewStompServer(listener RawConnectionListener, config StompConfig, handler login.Handler, opts ...engine.Option) StompServer {
	s := &stompServer{
		connectionListener: listener,
		config:             config,
		connections:        make(map[model.ConnectionId]*stompConn),
	}

	engineOpts := []engine.Option{
		engine.WithHeartbeat(config.HeartBeat()),
		engine.WithMaxFrameSize(config.MaxFrameSize()),
		engine.WithCloseOnNotLoggedIn(config.CloseOnNotLoggedIn()),
		engine.WithActivityHook(s.touch),
	}
	s.engine = engine.NewEngine(s, handler, append(engineOpts, opts...)...)
	s.engine.AddListener(s.connectedListener())
	return s
}

func (s *stompServer) AddListener(l dispatch.Listener) error {
	return s.engine.AddListener(l)
}

func (s *stompServer) Engine() *engine.Engine {
	return s.engine
}

func (s *stompServer) Start() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	s.waitForConnections()
}

func (s *stompServer) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	s.connectionListener.Close()

	s.lock.RLock()
	open := make([]*stompConn, 0, len(s.connections))
	for _, c := range s.connections {
		open = append(open, c)
	}
	s.lock.RUnlock()

	for _, c := range open {
		c.Close()
	}
	s.wg.Wait()
	s.engine.Close()
}

func (s *stompServer) waitForConnections() {
	for {
		rawConn, err := s.connectionListener.Accept()
		if atomic.LoadInt32(&s.running) == 0 {
			if rawConn != nil {
				rawConn.Close()
			}
			return
		}
		if err != nil {
			log.Log.Errorf("Failed to establish client connection: %v", err)
			continue
		}

		c := newStompConn(rawConn, s.connectionClosed)
		s.lock.Lock()
		if atomic.LoadInt32(&s.running) == 0 {
			s.lock.Unlock()
			rawConn.Close()
			return
		}
		s.connections[c.id] = c
		s.wg.Add(1)
		s.lock.Unlock()
		log.Log.WithConnection(c.id).Debug("connection opened")

		go func() {
			defer s.wg.Done()
			c.run(s.engine.Process)
		}()
	}
}

func (s *stompServer) connection(id model.ConnectionId) (*stompConn, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	c, ok := s.connections[id]
	return c, ok
}

func (s *stompServer) ConnectionCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.connections)
}

// SendFrame never closes the connection itself: a failed write surfaces as a
// read error on the connection's own goroutine.
func (s *stompServer) SendFrame(id model.ConnectionId, f *frame.Frame) error {
	c, ok := s.connection(id)
	if !ok {
		return fmt.Errorf("%w: %s: %v", model.ErrSendFailed, id, unknownConnectionError)
	}
	return c.writeFrame(f)
}

func (s *stompServer) CloseConnection(id model.ConnectionId) {
	if c, ok := s.connection(id); ok {
		c.Close()
	}
}

func (s *stompServer) connectionClosed(c *stompConn) {
	s.lock.Lock()
	if current, ok := s.connections[c.id]; ok && current == c {
		delete(s.connections, c.id)
	}
	s.lock.Unlock()

	log.Log.WithConnection(c.id).Debug("connection closed")
	s.Notify(c.id)
}

func (s *stompServer) touch(id model.ConnectionId) {
	if c, ok := s.connection(id); ok {
		c.touch()
	}
}

// connectedListener answers a successful login with a CONNECTED frame and
// starts enforcing the read idle limit the client agreed to.
func (s *stompServer) connectedListener() dispatch.Listener {
	return dispatch.Listener{
		Name:  "connected",
		Types: []model.MessageType{model.Connect, model.Stomp},
		Handle: func(f *frame.Frame, id model.ConnectionId) dispatch.Result {
			c, ok := s.connection(id)
			if !ok || !s.engine.Guard().IsLoggedIn(id) || !c.markConnected() {
				return dispatch.Proceed()
			}

			version, err := determineVersion(f)
			if err != nil {
				if sendErr := s.SendFrame(id, gateway.NewErrorFrame(err.Error())); sendErr != nil {
					log.Log.WithConnection(id).WithError(sendErr).Warn("unable to send error frame")
				}
				c.Close()
				return dispatch.Stop()
			}
			c.version = version

			header, err := model.DecodeConnectHeader(f)
			if err != nil {
				return dispatch.Fail(err)
			}
			cx, _, err := header.HeartBeatMs()
			if err != nil {
				return dispatch.Fail(err)
			}

			if incoming := heartbeat.Negotiate(cx, s.config.HeartBeat()); incoming > 0 {
				c.setReadTimeout(2 * time.Duration(incoming) * time.Millisecond)
			}

			hb := s.config.HeartBeat()
			response := frame.New(frame.CONNECTED,
				frame.Version, version.String(),
				frame.Server, serverName,
				frame.Session, uuid.New().String(),
				frame.HeartBeat, fmt.Sprintf("%d,%d", hb, hb))
			if err := s.SendFrame(id, response); err != nil {
				return dispatch.Fail(err)
			}
			return dispatch.Proceed()
		},
	}
}
