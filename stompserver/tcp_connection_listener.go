// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

import (
	"github.com/go-stomp/stomp/v3/frame"
	"golang.org/x/net/netutil"
	"net"
	"time"
)

const readBufferSize = 4096

type tcpStompConnection struct {
	tcpCon net.Conn
	buf    []byte
}

func newTcpStompConnection(conn net.Conn) *tcpStompConnection {
	return &tcpStompConnection{tcpCon: conn, buf: make([]byte, readBufferSize)}
}

func (c *tcpStompConnection) Read() (string, error) {
	n, err := c.tcpCon.Read(c.buf)
	if n > 0 {
		// a pending error is returned again by the next read
		return string(c.buf[:n]), nil
	}
	return "", err
}

func (c *tcpStompConnection) WriteFrame(f *frame.Frame) error {
	return frame.NewWriter(c.tcpCon).Write(f)
}

func (c *tcpStompConnection) SetReadDeadline(t time.Time) {
	c.tcpCon.SetReadDeadline(t)
}

func (c *tcpStompConnection) SetWriteDeadline(t time.Time) {
	c.tcpCon.SetWriteDeadline(t)
}

func (c *tcpStompConnection) RemoteAddr() net.Addr {
	return c.tcpCon.RemoteAddr()
}

func (c *tcpStompConnection) Close() error {
	return c.tcpCon.Close()
}

type tcpConnectionListener struct {
	listener net.Listener
}

// NewTcpConnectionListener listens for raw STOMP connections on addr. When
// maxConnections is positive, connections beyond the limit wait in the accept queue.
func NewTcpConnectionListener(addr string, maxConnections int) (RawConnectionListener, error) {
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConnections > 0 {
		tcpListener = netutil.LimitListener(tcpListener, maxConnections)
	}
	return &tcpConnectionListener{listener: tcpListener}, nil
}

func (l *tcpConnectionListener) Accept() (RawConnection, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newTcpStompConnection(conn), nil
}

func (l *tcpConnectionListener) Close() error {
	return l.listener.Close()
}

func (l *tcpConnectionListener) Addr() net.Addr {
	return l.listener.Addr()
}
