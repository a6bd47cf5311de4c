// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package assembler

import (
	"fmt"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"strings"
	"sync"
)

// Terminator marks the end of a frame on the wire.
const Terminator = "\x00"

// ActivityHook is called for every chunk received from a connection.
type ActivityHook func(id model.ConnectionId)

type Option func(a *Assembler)

// WithActivityHook registers the hook used to track read liveness.
func WithActivityHook(hook ActivityHook) Option {
	return func(a *Assembler) {
		a.onActivity = hook
	}
}

// WithMaxFrameSize bounds the size of a frame, complete or not. Zero disables the check.
func WithMaxFrameSize(size int) Option {
	return func(a *Assembler) {
		a.maxFrameSize = size
	}
}

// Assembler rebuilds complete frames from the raw text chunks of many
// connections. Calls for the same connection must not run concurrently.
type Assembler struct {
	lock         sync.Mutex
	fragments    map[model.ConnectionId]string
	onActivity   ActivityHook
	maxFrameSize int
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		fragments: make(map[model.ConnectionId]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnData appends chunk to the pending text of the connection and returns the
// complete frames it now contains, terminator included, in arrival order. On a
// protocol violation the frames extracted before the violation are returned
// together with an error wrapping model.ErrMalformedFrame, and the pending text
// is discarded.
func (a *Assembler) OnData(id model.ConnectionId, chunk string) ([]string, error) {
	if a.onActivity != nil {
		a.onActivity(id)
	}

	pending, _ := a.Pending(id)
	if pending == "" && isHeartbeat(chunk) {
		log.Log.WithConnection(id).Debug("heartbeat received")
		return nil, nil
	}

	var frames []string
	data := pending + chunk
	for {
		data = trimLeadingEOLs(data)
		if data == "" {
			a.Forget(id)
			return frames, nil
		}

		if err := validateCommand(data); err != nil {
			a.Forget(id)
			return frames, err
		}

		idx := strings.Index(data, Terminator)
		if idx < 0 {
			if a.maxFrameSize > 0 && len(data) > a.maxFrameSize {
				a.Forget(id)
				return frames, fmt.Errorf("%w: frame exceeds %d bytes", model.ErrMalformedFrame, a.maxFrameSize)
			}
			a.store(id, data)
			log.Log.WithConnection(id).Debugf("stored partial frame of %d bytes", len(data))
			return frames, nil
		}

		if a.maxFrameSize > 0 && idx+1 > a.maxFrameSize {
			a.Forget(id)
			return frames, fmt.Errorf("%w: frame exceeds %d bytes", model.ErrMalformedFrame, a.maxFrameSize)
		}
		frames = append(frames, data[:idx+1])
		data = data[idx+1:]
	}
}

// Pending returns the incomplete frame text held for a connection.
func (a *Assembler) Pending(id model.ConnectionId) (string, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	fragment, ok := a.fragments[id]
	return fragment, ok
}

// Forget drops any incomplete frame held for the connection.
func (a *Assembler) Forget(id model.ConnectionId) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.fragments, id)
}

func (a *Assembler) store(id model.ConnectionId, fragment string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.fragments[id] = fragment
}

func isHeartbeat(s string) bool {
	return s == "\n" || s == "\r\n"
}

func trimLeadingEOLs(s string) string {
	for {
		switch {
		case strings.HasPrefix(s, "\n"):
			s = s[1:]
		case strings.HasPrefix(s, "\r\n"):
			s = s[2:]
		default:
			return s
		}
	}
}

// validateCommand checks the first line of a frame. An unfinished first line
// only has to be the start of a known command.
func validateCommand(data string) error {
	line := data
	complete := false
	if idx := strings.IndexAny(data, "\n"+Terminator); idx >= 0 {
		line = strings.TrimSuffix(data[:idx], "\r")
		complete = true
	} else {
		line = strings.TrimSuffix(line, "\r")
	}

	if complete {
		if _, ok := model.ParseMessageType(line); !ok {
			return fmt.Errorf("%w: unknown command %q", model.ErrMalformedFrame, line)
		}
		return nil
	}
	if !model.IsMessageTypePrefix(line) {
		return fmt.Errorf("%w: unknown command %q", model.ErrMalformedFrame, line)
	}
	return nil
}
