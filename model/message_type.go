// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package model

import (
	"github.com/go-stomp/stomp/v3/frame"
	"strings"
)

// MessageType is the command of a STOMP frame.
type MessageType string

const (
	Connect     MessageType = frame.CONNECT
	Stomp       MessageType = frame.STOMP
	Connected   MessageType = frame.CONNECTED
	Send        MessageType = frame.SEND
	Subscribe   MessageType = frame.SUBSCRIBE
	Unsubscribe MessageType = frame.UNSUBSCRIBE
	Ack         MessageType = frame.ACK
	Nack        MessageType = frame.NACK
	Begin       MessageType = frame.BEGIN
	Commit      MessageType = frame.COMMIT
	Abort       MessageType = frame.ABORT
	Disconnect  MessageType = frame.DISCONNECT
	Message     MessageType = frame.MESSAGE
	Receipt     MessageType = frame.RECEIPT
	Error       MessageType = frame.ERROR
)

var allMessageTypes = []MessageType{
	Connect, Stomp, Connected, Send, Subscribe, Unsubscribe, Ack, Nack,
	Begin, Commit, Abort, Disconnect, Message, Receipt, Error,
}

var messageTypeSet = func() map[MessageType]struct{} {
	m := make(map[MessageType]struct{}, len(allMessageTypes))
	for _, t := range allMessageTypes {
		m[t] = struct{}{}
	}
	return m
}()

// AllMessageTypes returns every known message type.
func AllMessageTypes() []MessageType {
	types := make([]MessageType, len(allMessageTypes))
	copy(types, allMessageTypes)
	return types
}

// ParseMessageType does a case-sensitive lookup of a frame command.
func ParseMessageType(command string) (MessageType, bool) {
	t := MessageType(command)
	_, ok := messageTypeSet[t]
	return t, ok
}

// IsMessageTypePrefix reports whether s could still grow into a valid command.
func IsMessageTypePrefix(s string) bool {
	for _, t := range allMessageTypes {
		if strings.HasPrefix(string(t), s) {
			return true
		}
	}
	return false
}

// IsHandshake is true for the frame types that open a session.
func (t MessageType) IsHandshake() bool {
	return t == Connect || t == Stomp
}

// RequiresLogin is true for the client frames only valid on an authenticated connection.
func (t MessageType) RequiresLogin() bool {
	switch t {
	case Send, Subscribe, Unsubscribe, Ack, Nack, Begin, Commit, Abort:
		return true
	}
	return false
}

func (t MessageType) String() string {
	return string(t)
}
