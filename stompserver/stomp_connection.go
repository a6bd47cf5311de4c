// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

import (
	"errors"
	"fmt"
	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

const (
	connecting int32 = iota
	connected
	closed
)

// stompConn is the transport side of a single client connection. Its run loop
// is the only caller of the engine for the connection.
type stompConn struct {
	id            model.ConnectionId
	rawConnection RawConnection
	state         int32
	version       stomp.Version
	readTimeoutMs int64
	writeLock     sync.Mutex
	closeOnce     sync.Once
	onClose       func(conn *stompConn)
}

func newStompConn(rawConnection RawConnection, onClose func(conn *stompConn)) *stompConn {
	return &stompConn{
		id:            model.NewConnectionId(rawConnection.RemoteAddr()),
		rawConnection: rawConnection,
		state:         connecting,
		onClose:       onClose,
	}
}

// run reads chunks until the connection fails or gets closed.
func (conn *stompConn) run(process func(id model.ConnectionId, chunk string) error) {
	defer conn.Close()

	for {
		chunk, err := conn.rawConnection.Read()
		if err != nil {
			if isTimeout(err) {
				log.Log.WithConnection(conn.id).Warn("no data received within the heart-beat interval, closing connection")
			} else if atomic.LoadInt32(&conn.state) != closed {
				log.Log.WithConnection(conn.id).WithError(err).Debug("connection read failed")
			}
			return
		}
		if chunk == "" {
			continue
		}

		if err := process(conn.id, chunk); err != nil {
			log.Log.WithConnection(conn.id).WithError(err).Debug("chunk rejected")
		}
		if atomic.LoadInt32(&conn.state) == closed {
			return
		}
	}
}

func (conn *stompConn) writeFrame(f *frame.Frame) error {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()

	if atomic.LoadInt32(&conn.state) == closed {
		return fmt.Errorf("%w: %s: %v", model.ErrSendFailed, conn.id, connectionClosedError)
	}
	conn.rawConnection.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.rawConnection.WriteFrame(f); err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrSendFailed, conn.id, err)
	}
	return nil
}

// markConnected moves the connection out of the connecting state. It returns
// false when the connection was already connected or is closed.
func (conn *stompConn) markConnected() bool {
	return atomic.CompareAndSwapInt32(&conn.state, connecting, connected)
}

// setReadTimeout sets the read idle limit and starts enforcing it right away.
func (conn *stompConn) setReadTimeout(timeout time.Duration) {
	atomic.StoreInt64(&conn.readTimeoutMs, timeout.Milliseconds())
	conn.touch()
}

// touch pushes the read deadline forward after data was received.
func (conn *stompConn) touch() {
	if ms := atomic.LoadInt64(&conn.readTimeoutMs); ms > 0 {
		conn.rawConnection.SetReadDeadline(time.Now().Add(time.Duration(ms) * time.Millisecond))
	}
}

func (conn *stompConn) Close() {
	conn.closeOnce.Do(func() {
		atomic.StoreInt32(&conn.state, closed)
		conn.rawConnection.Close()
		if conn.onClose != nil {
			conn.onClose(conn)
		}
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func determineVersion(f *frame.Frame) (stomp.Version, error) {
	if acceptVersion, ok := f.Header.Contains(frame.AcceptVersion); ok {
		versions := strings.Split(acceptVersion, ",")
		for _, supportedVersion := range []stomp.Version{stomp.V12, stomp.V11} {
			for _, v := range versions {
				if strings.TrimSpace(v) == supportedVersion.String() {
					// return the highest supported version
					return supportedVersion, nil
				}
			}
		}
	} else {
		return stomp.V10, nil
	}

	var emptyVersion stomp.Version
	return emptyVersion, unsupportedStompVersionError
}
