// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package model

import (
	"fmt"
	"github.com/google/uuid"
	"net"
	"strconv"
)

// ConnectionId identifies a single transport connection. Two ids are the same
// connection iff both Host and Port are equal, so it can be used as a map key.
type ConnectionId struct {
	Host string
	Port int
}

// NewConnectionId derives a ConnectionId from the remote address of a connection.
// Addresses that do not carry a host and port (pipes, unix sockets) get a random
// host so that the id is still unique for the lifetime of the process.
func NewConnectionId(addr net.Addr) ConnectionId {
	if addr != nil {
		if id, err := ParseConnectionId(addr.String()); err == nil {
			return id
		}
	}
	return ConnectionId{Host: uuid.New().String()}
}

// ParseConnectionId parses a "host:port" string.
func ParseConnectionId(hostPort string) (ConnectionId, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return ConnectionId{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ConnectionId{}, fmt.Errorf("invalid port in %q: %w", hostPort, err)
	}
	return ConnectionId{Host: host, Port: port}, nil
}

func (id ConnectionId) String() string {
	return net.JoinHostPort(id.Host, strconv.Itoa(id.Port))
}
