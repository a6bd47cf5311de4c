// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package stompserver

const (
	unsupportedStompVersionError = stompErrorMessage("unsupported STOMP version")
	connectionClosedError        = stompErrorMessage("connection closed")
	unknownConnectionError       = stompErrorMessage("unknown connection")
	listenerClosedError          = stompErrorMessage("listener closed")
)

type stompErrorMessage string

func (e stompErrorMessage) Error() string {
	return string(e)
}
