// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

import (
	"github.com/go-stomp/stomp/v3/frame"
	"net"
	"time"
)

type RawConnection interface {
	// Reads the next chunk of raw text. A chunk may hold several frames,
	// a fragment of a frame or a bare heart-beat.
	Read() (string, error)
	// Sends a single frame object, a nil frame is sent as a heart-beat
	WriteFrame(frame *frame.Frame) error
	// Set deadline for reading chunks
	SetReadDeadline(t time.Time)
	// Set deadline for writing frames
	SetWriteDeadline(t time.Time)
	// Address of the remote peer
	RemoteAddr() net.Addr
	// Close the connection
	Close() error
}

type RawConnectionListener interface {
	// Blocks until a new RawConnection is established.
	Accept() (RawConnection, error)
	// Stops the connection listener.
	Close() error
}
