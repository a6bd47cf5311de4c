// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package heartbeat

import (
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/robfig/cron/v3"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/gateway"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"sync"
	"time"
)

// Negotiate returns the interval at which a sender emits heartbeats, given what
// the sender offers and what the receiver asks for. Zero means no heartbeats.
func Negotiate(outgoing, incoming int64) int64 {
	if outgoing <= 0 || incoming <= 0 {
		return 0
	}
	if outgoing > incoming {
		return outgoing
	}
	return incoming
}

// constantDelay is a cron.Schedule with millisecond precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

type pacerEntry struct {
	id        model.ConnectionId
	interval  time.Duration
	entryId   cron.EntryID
	lock      sync.Mutex
	cancelled bool
}

// cancel blocks until an in-flight tick finishes; no tick sends afterwards.
func (e *pacerEntry) cancel() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.cancelled = true
}

type Option func(p *Pacer)

// WithSessionCheck makes the handshake listener start pacing only for
// connections the check accepts.
func WithSessionCheck(loggedIn func(id model.ConnectionId) bool) Option {
	return func(p *Pacer) {
		p.loggedIn = loggedIn
	}
}

// Pacer sends heartbeats to logged in connections at their negotiated interval.
// All connections share one scheduler.
type Pacer struct {
	gateway    gateway.Gateway
	intervalMs int64
	loggedIn   func(id model.ConnectionId) bool
	scheduler  *cron.Cron
	lock       sync.Mutex
	entries    map[model.ConnectionId]*pacerEntry
}

// NewPacer creates a pacer that offers heartbeats every intervalMs milliseconds.
// A non-positive interval disables pacing.
func NewPacer(gw gateway.Gateway, intervalMs int64, opts ...Option) *Pacer {
	p := &Pacer{
		gateway:    gw,
		intervalMs: intervalMs,
		scheduler:  cron.New(cron.WithLogger(log.CronLogger{})),
		entries:    make(map[model.ConnectionId]*pacerEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	gw.OnConnectionClosed(p.connectionClosed)
	p.scheduler.Start()
	return p
}

// Listener starts pacing on a handshake that asks for heartbeats and stops it on DISCONNECT.
func (p *Pacer) Listener() dispatch.Listener {
	return dispatch.Listener{
		Name:  "heartbeat",
		Types: []model.MessageType{model.Connect, model.Stomp, model.Disconnect},
		Accepts: func(f *frame.Frame) bool {
			if f.Command == frame.DISCONNECT {
				return true
			}
			hb, ok := f.Header.Contains(frame.HeartBeat)
			return ok && hb != ""
		},
		Handle: p.handle,
	}
}

func (p *Pacer) handle(f *frame.Frame, id model.ConnectionId) dispatch.Result {
	if f.Command == frame.DISCONNECT {
		p.Stop(id)
		return dispatch.Proceed()
	}
	if p.loggedIn != nil && !p.loggedIn(id) {
		log.Log.WithConnection(id).Debug("no session, heartbeats not started")
		return dispatch.Proceed()
	}

	header, err := model.DecodeConnectHeader(f)
	if err != nil {
		return dispatch.Fail(err)
	}
	_, requested, err := header.HeartBeatMs()
	if err != nil {
		return dispatch.Fail(err)
	}

	interval := Negotiate(p.intervalMs, requested)
	if interval <= 0 {
		return dispatch.Proceed()
	}

	p.Start(id, time.Duration(interval)*time.Millisecond)
	return dispatch.Proceed()
}

// Start begins pacing a connection, replacing any pacing already running for it.
func (p *Pacer) Start(id model.ConnectionId, interval time.Duration) {
	if interval <= 0 {
		return
	}

	if old, ok := p.detach(id); ok {
		p.cancelEntry(old)
	}

	entry := &pacerEntry{id: id, interval: interval}
	p.lock.Lock()
	entry.entryId = p.scheduler.Schedule(constantDelay(interval), cron.FuncJob(func() {
		p.beat(entry)
	}))
	p.entries[id] = entry
	p.lock.Unlock()

	log.Log.WithConnection(id).Infof("starting heartbeats at %d ms intervals", interval.Milliseconds())
}

// Stop cancels pacing for a connection. Stopping an idle connection is a no-op.
func (p *Pacer) Stop(id model.ConnectionId) {
	if entry, ok := p.detach(id); ok {
		p.cancelEntry(entry)
		log.Log.WithConnection(id).Debug("heartbeats stopped")
	}
}

// detach removes the entry of a connection from the registry without waiting
// for an in-flight tick.
func (p *Pacer) detach(id model.ConnectionId) (*pacerEntry, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return entry, ok
}

// IsPacing reports whether heartbeats are being sent to the connection.
func (p *Pacer) IsPacing(id model.ConnectionId) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Interval returns the negotiated interval for a paced connection.
func (p *Pacer) Interval(id model.ConnectionId) (time.Duration, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if entry, ok := p.entries[id]; ok {
		return entry.interval, true
	}
	return 0, false
}

// ActiveCount returns the number of paced connections.
func (p *Pacer) ActiveCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.entries)
}

// ScheduledCount returns the number of tasks held by the scheduler.
func (p *Pacer) ScheduledCount() int {
	return len(p.scheduler.Entries())
}

// Close cancels every entry and stops the scheduler.
func (p *Pacer) Close() {
	p.lock.Lock()
	entries := make([]*pacerEntry, 0, len(p.entries))
	for id, entry := range p.entries {
		delete(p.entries, id)
		entries = append(entries, entry)
	}
	p.lock.Unlock()

	for _, entry := range entries {
		p.cancelEntry(entry)
	}

	<-p.scheduler.Stop().Done()
}

// cancelEntry must not be called with p.lock held: it waits for a tick that
// may be blocked in SendFrame.
func (p *Pacer) cancelEntry(entry *pacerEntry) {
	entry.cancel()
	p.scheduler.Remove(entry.entryId)
}

func (p *Pacer) beat(entry *pacerEntry) {
	entry.lock.Lock()
	if entry.cancelled {
		entry.lock.Unlock()
		return
	}
	err := p.gateway.SendFrame(entry.id, nil)
	entry.lock.Unlock()

	if err != nil {
		log.Log.WithConnection(entry.id).WithError(err).Warn("heartbeat failed, stopping heartbeats")
		p.expire(entry)
	}
}

// expire removes an entry whose connection is gone, unless it was already replaced.
func (p *Pacer) expire(entry *pacerEntry) {
	p.lock.Lock()
	if current, ok := p.entries[entry.id]; ok && current == entry {
		delete(p.entries, entry.id)
	}
	p.lock.Unlock()
	p.cancelEntry(entry)
}

func (p *Pacer) connectionClosed(id model.ConnectionId) {
	p.Stop(id)
}
