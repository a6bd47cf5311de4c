// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package model

import (
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/mitchellh/mapstructure"
	"time"
)

// ConnectHeader is the typed view of a CONNECT or STOMP frame's headers.
type ConnectHeader struct {
	AcceptVersion string `mapstructure:"accept-version"`
	Host          string `mapstructure:"host"`
	Login         string `mapstructure:"login"`
	Passcode      string `mapstructure:"passcode"`
	HeartBeat     string `mapstructure:"heart-beat"`
}

// DecodeConnectHeader copies the frame headers into a ConnectHeader. When a header
// is repeated the first occurrence wins, as STOMP 1.2 requires.
func DecodeConnectHeader(f *frame.Frame) (*ConnectHeader, error) {
	raw := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if _, exists := raw[k]; !exists {
			raw[k] = v
		}
	}

	header := &ConnectHeader{}
	if err := mapstructure.Decode(raw, header); err != nil {
		return nil, err
	}
	return header, nil
}

// HasCredentials is true when both login and passcode are non-empty.
func (h *ConnectHeader) HasCredentials() bool {
	return h.Login != "" && h.Passcode != ""
}

// HeartBeatMs returns the declared outgoing (cx) and requested incoming (cy)
// intervals in milliseconds. A missing header means no heartbeats either way.
func (h *ConnectHeader) HeartBeatMs() (cx, cy int64, err error) {
	if h.HeartBeat == "" {
		return 0, 0, nil
	}
	cxDuration, cyDuration, err := frame.ParseHeartBeat(h.HeartBeat)
	if err != nil {
		return 0, 0, err
	}
	return int64(cxDuration / time.Millisecond), int64(cyDuration / time.Millisecond), nil
}
