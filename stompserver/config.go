// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

type StompConfig interface {
	// Heart-beat interval in milliseconds offered to clients, 0 disables heart-beats
	HeartBeat() int64
	// Largest incomplete frame a connection may buffer, 0 for no limit
	MaxFrameSize() int
	// Whether frames sent before a successful login close the connection
	CloseOnNotLoggedIn() bool
}

type stompConfig struct {
	heartbeat          int64
	maxFrameSize       int
	closeOnNotLoggedIn bool
}

func NewStompConfig(heartBeatMs int64, maxFrameSize int, closeOnNotLoggedIn bool) StompConfig {
	if heartBeatMs < 0 {
		heartBeatMs = 0
	}
	if maxFrameSize < 0 {
		maxFrameSize = 0
	}
	return &stompConfig{
		heartbeat:          heartBeatMs,
		maxFrameSize:       maxFrameSize,
		closeOnNotLoggedIn: closeOnNotLoggedIn,
	}
}

func (c *stompConfig) HeartBeat() int64 {
	return c.heartbeat
}

func (c *stompConfig) MaxFrameSize() int {
	return c.maxFrameSize
}

func (c *stompConfig) CloseOnNotLoggedIn() bool {
	return c.closeOnNotLoggedIn
}
