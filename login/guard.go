// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package login

import (
	"errors"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"sync"
)

// Handler validates credentials. Returning a *model.SessionTerminatedError
// rejects the login and ends the session.
type Handler interface {
	Login(login, passcode string) error
}

type HandlerFunc func(login, passcode string) error

func (fn HandlerFunc) Login(login, passcode string) error {
	return fn(login, passcode)
}

// Guard keeps the set of logged in connections and rejects frames that need a
// session on connections that have none.
type Guard struct {
	handler  Handler
	gateway  gateway.Gateway
	lock     sync.RWMutex
	loggedIn map[model.ConnectionId]struct{}
}

func NewGuard(handler Handler, gw gateway.Gateway) *Guard {
	g := &Guard{
		handler:  handler,
		gateway:  gw,
		loggedIn: make(map[model.ConnectionId]struct{}),
	}
	gw.OnConnectionClosed(g.connectionClosed)
	return g
}

// Listener must be registered before any listener with side effects.
func (g *Guard) Listener() dispatch.Listener {
	return dispatch.Listener{
		Name:   "login",
		Types:  model.AllMessageTypes(),
		Handle: g.handle,
	}
}

func (g *Guard) handle(f *frame.Frame, id model.ConnectionId) dispatch.Result {
	mt := model.MessageType(f.Command)
	switch {
	case mt.IsHandshake():
		return g.logIn(f, id)
	case mt.RequiresLogin():
		if g.IsLoggedIn(id) {
			return dispatch.Proceed()
		}
		log.Log.WithConnection(id).Errorf("attempted to send a %s frame without logging in", mt)
		return dispatch.Fail(fmt.Errorf("%w: %s requires a session", model.ErrNotLoggedIn, mt))
	case mt == model.Disconnect:
		g.logOut(id)
		return dispatch.Proceed()
	}

	log.Log.WithConnection(id).Errorf("unexpected frame type %s", mt)
	return dispatch.Fail(fmt.Errorf("%w: %s", model.ErrUnsupportedFrameType, mt))
}

func (g *Guard) logIn(f *frame.Frame, id model.ConnectionId) dispatch.Result {
	if g.IsLoggedIn(id) {
		return dispatch.Fail(fmt.Errorf("%w: %s", model.ErrAlreadyLoggedIn, id))
	}

	header, err := model.DecodeConnectHeader(f)
	if err != nil {
		return dispatch.Fail(fmt.Errorf("%w: %v", model.ErrMalformedFrame, err))
	}
	if !header.HasCredentials() {
		return dispatch.Fail(fmt.Errorf("%w: login and passcode not specified", model.ErrNotLoggedIn))
	}

	err = g.handler.Login(header.Login, header.Passcode)
	if err == nil {
		g.lock.Lock()
		g.loggedIn[id] = struct{}{}
		g.lock.Unlock()
		log.Log.WithConnection(id).Infof("%s logged in", header.Login)
		return dispatch.Proceed()
	}

	var terminated *model.SessionTerminatedError
	if !errors.As(err, &terminated) {
		return dispatch.Fail(fmt.Errorf("%w: %w", model.ErrNotLoggedIn, err))
	}

	log.Log.WithConnection(id).WithError(err).Error("login handler has terminated the session")
	if sendErr := g.gateway.SendFrame(id, gateway.NewErrorFrame(terminated.Error())); sendErr != nil {
		log.Log.WithConnection(id).WithError(sendErr).Error("sending of login error frame failed")
	}
	g.gateway.CloseConnection(id)
	return dispatch.Stop()
}

func (g *Guard) logOut(id model.ConnectionId) {
	g.lock.Lock()
	defer g.lock.Unlock()
	delete(g.loggedIn, id)
}

// IsLoggedIn reports whether the connection passed the login handler.
func (g *Guard) IsLoggedIn(id model.ConnectionId) bool {
	g.lock.RLock()
	defer g.lock.RUnlock()
	_, ok := g.loggedIn[id]
	return ok
}

// LoggedInCount returns the number of logged in connections.
func (g *Guard) LoggedInCount() int {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return len(g.loggedIn)
}

func (g *Guard) connectionClosed(id model.ConnectionId) {
	if g.IsLoggedIn(id) {
		log.Log.WithConnection(id).Debug("session terminated before DISCONNECT frame received, cleaning up")
		g.logOut(id)
	}
}
