// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"errors"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/assembler"
	"github.com/vmware/stompgate/codec"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/heartbeat"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/login"
	"github.com/vmware/stompgate/model"
	"github.com/vmware/stompgate/transaction"
	"sync"
	"sync/atomic"
)

// Observer is told about failures the engine resolves on its own.
type Observer interface {
	MalformedFrame(id model.ConnectionId)
	ListenerFailed(listener string, err error)
}

type options struct {
	heartbeatMs        int64
	maxFrameSize       int
	closeOnNotLoggedIn bool
	activityHook       assembler.ActivityHook
	parser             codec.Parser
	observers          []Observer
}

type Option func(o *options)

// WithHeartbeat sets the interval in milliseconds the engine offers for outgoing heartbeats.
func WithHeartbeat(ms int64) Option {
	return func(o *options) { o.heartbeatMs = ms }
}

func WithMaxFrameSize(size int) Option {
	return func(o *options) { o.maxFrameSize = size }
}

// WithCloseOnNotLoggedIn controls whether a frame rejected for lack of a
// session closes the connection. Defaults to true.
func WithCloseOnNotLoggedIn(close bool) Option {
	return func(o *options) { o.closeOnNotLoggedIn = close }
}

func WithActivityHook(hook assembler.ActivityHook) Option {
	return func(o *options) { o.activityHook = hook }
}

func WithParser(p codec.Parser) Option {
	return func(o *options) { o.parser = p }
}

// WithObserver adds an observer. Observers are called in the order they were added.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// Engine turns raw text from connections into frames and runs them through
// the login guard, the heartbeat pacer, the transaction tracker and the
// application listeners.
type Engine struct {
	gateway    gateway.Gateway
	assembler  *assembler.Assembler
	parser     codec.Parser
	dispatcher *dispatch.Dispatcher
	guard      *login.Guard
	pacer      *heartbeat.Pacer
	tracker    *transaction.Tracker
	opts       options

	lanesLock sync.Mutex
	lanes     map[model.ConnectionId]*lane
}

// lane tracks a connection while Process runs for it, so that the rest of a
// chunk is dropped once the connection gets closed.
type lane struct {
	closed int32
}

func (l *lane) isClosed() bool {
	return atomic.LoadInt32(&l.closed) == 1
}

func NewEngine(gw gateway.Gateway, handler login.Handler, opts ...Option) *Engine {
	o := options{closeOnNotLoggedIn: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parser == nil {
		o.parser = codec.NewParser()
	}

	asmOpts := []assembler.Option{assembler.WithMaxFrameSize(o.maxFrameSize)}
	if o.activityHook != nil {
		asmOpts = append(asmOpts, assembler.WithActivityHook(o.activityHook))
	}

	guard := login.NewGuard(handler, gw)
	e := &Engine{
		gateway:    gw,
		assembler:  assembler.NewAssembler(asmOpts...),
		parser:     o.parser,
		dispatcher: dispatch.NewDispatcher(),
		guard:      guard,
		pacer:      heartbeat.NewPacer(gw, o.heartbeatMs, heartbeat.WithSessionCheck(guard.IsLoggedIn)),
		tracker:    transaction.NewTracker(gw, transaction.WithSessionCheck(guard.IsLoggedIn)),
		opts:       o,
		lanes:      make(map[model.ConnectionId]*lane),
	}

	// the guard has to see every frame before anything acts on it
	e.dispatcher.Register(e.guard.Listener())
	e.dispatcher.Register(e.pacer.Listener())
	e.dispatcher.Register(e.tracker.Listener())

	gw.OnConnectionClosed(e.ConnectionClosed)
	return e
}

// AddListener registers an application listener. It runs after the built-in ones.
func (e *Engine) AddListener(l dispatch.Listener) error {
	return e.dispatcher.Register(l)
}

// Process handles a chunk of raw text received from a connection. Calls for
// the same connection must be sequential. The returned error is the one that
// caused the connection to be closed, if any.
func (e *Engine) Process(id model.ConnectionId, chunk string) error {
	l := e.openLane(id)
	defer e.closeLane(id)

	texts, asmErr := e.assembler.OnData(id, chunk)

	for _, text := range texts {
		if l.isClosed() {
			return nil
		}
		f, err := e.parser.Parse(text)
		if err != nil {
			e.rejectMalformed(id, err)
			return err
		}
		if err := e.dispatch(f, id); err != nil {
			return err
		}
	}

	if asmErr != nil && !l.isClosed() {
		e.rejectMalformed(id, asmErr)
		return asmErr
	}
	return nil
}

func (e *Engine) dispatch(f *frame.Frame, id model.ConnectionId) error {
	report := e.dispatcher.Dispatch(f, id)
	if report.Halted {
		return nil
	}

	var fatal error
	for _, le := range report.Errors {
		for _, obs := range e.opts.observers {
			obs.ListenerFailed(le.Listener, le.Err)
		}

		switch {
		case errors.Is(le, model.ErrNotLoggedIn):
			if !e.opts.closeOnNotLoggedIn {
				log.Log.WithConnection(id).WithError(le).Warn("frame rejected, connection kept open")
			} else if fatal == nil {
				fatal = le.Err
			}
		case errors.Is(le, model.ErrUnsupportedFrameType), errors.Is(le, model.ErrMalformedFrame),
			errors.Is(le, model.ErrInvalidTransaction):
			log.Log.WithConnection(id).WithError(le).Error("closing connection")
			if fatal == nil {
				fatal = le.Err
			}
		case errors.Is(le, model.ErrAlreadyLoggedIn):
			log.Log.WithConnection(id).Warn("ignoring repeated login")
		}
	}

	if fatal != nil {
		e.closeWithError(id, fatal)
		return fatal
	}

	if len(report.Errors) == 0 {
		e.sendReceipt(f, id)
	}
	if f.Command == frame.DISCONNECT {
		e.gateway.CloseConnection(id)
	}
	return nil
}

func (e *Engine) sendReceipt(f *frame.Frame, id model.ConnectionId) {
	receipt, ok := f.Header.Contains(frame.Receipt)
	if !ok || f.Command == frame.CONNECT || f.Command == frame.STOMP {
		return
	}
	if err := e.gateway.SendFrame(id, frame.New(frame.RECEIPT, frame.ReceiptId, receipt)); err != nil {
		log.Log.WithConnection(id).WithError(err).Warn("unable to send receipt")
	}
}

func (e *Engine) rejectMalformed(id model.ConnectionId, err error) {
	log.Log.WithConnection(id).WithError(err).Error("invalid STOMP message, closing connection")
	for _, obs := range e.opts.observers {
		obs.MalformedFrame(id)
	}
	e.closeWithError(id, err)
}

func (e *Engine) closeWithError(id model.ConnectionId, err error) {
	if sendErr := e.gateway.SendFrame(id, gateway.NewErrorFrame(err.Error())); sendErr != nil {
		log.Log.WithConnection(id).WithError(sendErr).Warn("unable to send error frame")
	}
	e.gateway.CloseConnection(id)
}

// ConnectionClosed drops the per-connection state owned by the engine itself.
func (e *Engine) ConnectionClosed(id model.ConnectionId) {
	e.lanesLock.Lock()
	if l, ok := e.lanes[id]; ok {
		atomic.StoreInt32(&l.closed, 1)
	}
	e.lanesLock.Unlock()

	e.assembler.Forget(id)
}

func (e *Engine) openLane(id model.ConnectionId) *lane {
	e.lanesLock.Lock()
	defer e.lanesLock.Unlock()
	l := &lane{}
	e.lanes[id] = l
	return l
}

func (e *Engine) closeLane(id model.ConnectionId) {
	e.lanesLock.Lock()
	defer e.lanesLock.Unlock()
	delete(e.lanes, id)
}

func (e *Engine) Guard() *login.Guard {
	return e.guard
}

func (e *Engine) Pacer() *heartbeat.Pacer {
	return e.pacer
}

func (e *Engine) Transactions() *transaction.Tracker {
	return e.tracker
}

func (e *Engine) Listeners() []string {
	return e.dispatcher.Listeners()
}

// Close stops all heartbeat pacing.
func (e *Engine) Close() {
	e.pacer.Close()
}
