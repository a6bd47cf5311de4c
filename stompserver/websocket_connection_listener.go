// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

import (
	"errors"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type webSocketStompConnection struct {
	wsCon *websocket.Conn
}

func (c *webSocketStompConnection) Read() (string, error) {
	_, data, err := c.wsCon.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *webSocketStompConnection) WriteFrame(f *frame.Frame) error {
	wr, err := c.wsCon.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err = frame.NewWriter(wr).Write(f); err != nil {
		return err
	}
	return wr.Close()
}

func (c *webSocketStompConnection) SetReadDeadline(t time.Time) {
	c.wsCon.SetReadDeadline(t)
}

func (c *webSocketStompConnection) SetWriteDeadline(t time.Time) {
	c.wsCon.SetWriteDeadline(t)
}

func (c *webSocketStompConnection) RemoteAddr() net.Addr {
	return c.wsCon.RemoteAddr()
}

func (c *webSocketStompConnection) Close() error {
	return c.wsCon.Close()
}

type webSocketConnectionListener struct {
	httpServer            *http.Server
	requestHandler        *http.ServeMux
	tcpConnectionListener net.Listener
	connectionsChannel    chan rawConnResult
	allowedOrigins        []glob.Glob
	maxMessageSize        int64
	closed                chan struct{}
	closeOnce             sync.Once
}

type rawConnResult struct {
	conn RawConnection
	err  error
}

// NewWebSocketConnectionListener serves STOMP over WebSocket on addr at the given
// endpoint. allowedOrigins holds host patterns such as "*.example.com:*"; requests
// from other origins are rejected unless the origin matches the request host.
// Messages larger than maxMessageSize bytes fail the read; 0 disables the limit.
func NewWebSocketConnectionListener(addr string, endpoint string, allowedOrigins []string, maxMessageSize int64) (RawConnectionListener, error) {
	origins := make([]glob.Glob, 0, len(allowedOrigins))
	for _, pattern := range allowedOrigins {
		g, err := glob.Compile(strings.ToLower(pattern), '.', ':')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", pattern, err)
		}
		origins = append(origins, g)
	}

	rh := http.NewServeMux()
	l := &webSocketConnectionListener{
		requestHandler: rh,
		httpServer: &http.Server{
			Addr:    addr,
			Handler: rh,
		},
		connectionsChannel: make(chan rawConnResult),
		allowedOrigins:     origins,
		maxMessageSize:     maxMessageSize,
		closed:             make(chan struct{}),
	}

	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     l.checkOrigin,
	}

	rh.HandleFunc(endpoint, func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		result := rawConnResult{err: err}
		if err == nil {
			if l.maxMessageSize > 0 {
				conn.SetReadLimit(l.maxMessageSize)
			}
			result.conn = &webSocketStompConnection{wsCon: conn}
		}
		select {
		case l.connectionsChannel <- result:
		case <-l.closed:
			if conn != nil {
				conn.Close()
			}
		}
	})

	var err error
	l.tcpConnectionListener, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go l.httpServer.Serve(l.tcpConnectionListener)
	return l, nil
}

func (l *webSocketConnectionListener) checkOrigin(r *http.Request) bool {
	if len(l.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	u, err := url.Parse(origin[0])
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == strings.ToLower(r.Host) {
		return true
	}

	for _, allowedOrigin := range l.allowedOrigins {
		if allowedOrigin.Match(host) {
			return true
		}
	}

	return false
}

func (l *webSocketConnectionListener) Accept() (RawConnection, error) {
	select {
	case cr := <-l.connectionsChannel:
		return cr.conn, cr.err
	case <-l.closed:
		return nil, listenerClosedError
	}
}

func (l *webSocketConnectionListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return l.httpServer.Close()
}

func (l *webSocketConnectionListener) Addr() net.Addr {
	return l.tcpConnectionListener.Addr()
}

type joinedConnectionListener struct {
	listeners          []RawConnectionListener
	connectionsChannel chan rawConnResult
	closed             chan struct{}
	closeOnce          sync.Once
}

// NewJoinedConnectionListener accepts connections from all the given listeners.
func NewJoinedConnectionListener(listeners ...RawConnectionListener) RawConnectionListener {
	l := &joinedConnectionListener{
		listeners:          listeners,
		connectionsChannel: make(chan rawConnResult),
		closed:             make(chan struct{}),
	}
	for _, listener := range listeners {
		go l.acceptFrom(listener)
	}
	return l
}

func (l *joinedConnectionListener) acceptFrom(listener RawConnectionListener) {
	for {
		conn, err := listener.Accept()
		select {
		case l.connectionsChannel <- rawConnResult{conn: conn, err: err}:
		case <-l.closed:
			if conn != nil {
				conn.Close()
			}
			return
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, listenerClosedError) {
			return
		}
	}
}

func (l *joinedConnectionListener) Accept() (RawConnection, error) {
	select {
	case cr := <-l.connectionsChannel:
		return cr.conn, cr.err
	case <-l.closed:
		return nil, listenerClosedError
	}
}

func (l *joinedConnectionListener) Close() error {
	var firstErr error
	l.closeOnce.Do(func() {
		close(l.closed)
		for _, listener := range l.listeners {
			if err := listener.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
