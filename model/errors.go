// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package model

import "fmt"

const (
	ErrMalformedFrame       = stompError("malformed frame")
	ErrNotLoggedIn          = stompError("not logged in")
	ErrAlreadyLoggedIn      = stompError("already logged in")
	ErrUnsupportedFrameType = stompError("unsupported frame type")
	ErrSessionTerminated    = stompError("session terminated")
	ErrSendFailed           = stompError("unable to send frame")
	ErrInvalidTransaction   = stompError("invalid transaction")
)

type stompError string

func (e stompError) Error() string {
	return string(e)
}

// SessionTerminatedError is returned by a login handler that rejects the
// credentials and wants the connection closed.
type SessionTerminatedError struct {
	Reason string
}

func NewSessionTerminatedError(format string, args ...interface{}) *SessionTerminatedError {
	return &SessionTerminatedError{Reason: fmt.Sprintf(format, args...)}
}

func (e *SessionTerminatedError) Error() string {
	if e.Reason == "" {
		return ErrSessionTerminated.Error()
	}
	return e.Reason
}

func (e *SessionTerminatedError) Is(target error) bool {
	return target == ErrSessionTerminated
}
