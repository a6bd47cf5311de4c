// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package dispatch

import (
	"errors"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"sync"
)

type HandlerFunc func(f *frame.Frame, id model.ConnectionId) Result

// Listener describes which frames a handler wants and how to handle them.
type Listener struct {
	Name string
	// Types the listener is interested in.
	Types []model.MessageType
	// Accepts narrows interest to individual frames. nil accepts every frame of Types.
	Accepts func(f *frame.Frame) bool
	Handle  HandlerFunc
}

// ListenerError is a failure reported by a single listener.
type ListenerError struct {
	Listener string
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s: %v", e.Listener, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// Report summarizes the dispatch of one frame.
type Report struct {
	Halted   bool
	HaltedBy string
	Errors   []*ListenerError
	Invoked  []string
}

// Has reports whether any listener failed with an error matching target.
func (r Report) Has(target error) bool {
	for _, e := range r.Errors {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

type registeredListener struct {
	Listener
	types map[model.MessageType]struct{}
}

func (l *registeredListener) interestedIn(f *frame.Frame) bool {
	if _, ok := l.types[model.MessageType(f.Command)]; !ok {
		return false
	}
	return l.Accepts == nil || l.Accepts(f)
}

// Dispatcher hands each frame to its registered listeners in registration order.
type Dispatcher struct {
	lock      sync.RWMutex
	listeners []*registeredListener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a listener. Listeners registered earlier always run first.
func (d *Dispatcher) Register(l Listener) error {
	if l.Handle == nil {
		return fmt.Errorf("listener %q has no handler", l.Name)
	}
	if len(l.Types) == 0 {
		return fmt.Errorf("listener %q declares no message types", l.Name)
	}

	rl := &registeredListener{
		Listener: l,
		types:    make(map[model.MessageType]struct{}, len(l.Types)),
	}
	for _, t := range l.Types {
		rl.types[t] = struct{}{}
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.listeners = append(d.listeners, rl)
	return nil
}

// Listeners returns the names of the registered listeners in invocation order.
func (d *Dispatcher) Listeners() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	names := make([]string, len(d.listeners))
	for i, l := range d.listeners {
		names[i] = l.Name
	}
	return names
}

// Dispatch runs every interested listener for the frame. A Halt result ends
// dispatch immediately; a failure is logged and recorded and the next
// listener still runs.
func (d *Dispatcher) Dispatch(f *frame.Frame, id model.ConnectionId) Report {
	d.lock.RLock()
	listeners := d.listeners
	d.lock.RUnlock()

	report := Report{}
	for _, l := range listeners {
		if !l.interestedIn(f) {
			continue
		}

		report.Invoked = append(report.Invoked, l.Name)
		result := invoke(l, f, id)

		switch result.Outcome {
		case Halt:
			log.Log.WithConnection(id).Debugf("%s frame halted by %s", f.Command, l.Name)
			report.Halted = true
			report.HaltedBy = l.Name
			return report
		case Failed:
			log.Log.WithConnection(id).WithError(result.Err).Warnf("listener %s failed on %s frame", l.Name, f.Command)
			report.Errors = append(report.Errors, &ListenerError{Listener: l.Name, Err: result.Err})
		}
	}
	return report
}

func invoke(l *registeredListener, f *frame.Frame, id model.ConnectionId) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Errorf("panic: %v", r))
		}
	}()
	result = l.Handle(f, id)
	if result.Outcome == Failed && result.Err == nil {
		result.Err = errors.New("unspecified failure")
	}
	return result
}
