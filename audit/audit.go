// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

// Package audit publishes a record of selected client frames to an AMQP exchange.
package audit

import (
	"encoding/json"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/streadway/amqp"
	"github.com/vmware/stompgate/dispatch"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/model"
	"strings"
	"time"
)

const redacted = "********"

// Publisher is the part of *amqp.Channel the auditor needs.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Event is the JSON body of every audit message.
type Event struct {
	Connection string            `json:"connection"`
	Command    string            `json:"command"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Auditor struct {
	publisher Publisher
	exchange  string
	types     []model.MessageType
	now       func() time.Time
}

func NewAuditor(publisher Publisher, exchange string, types []model.MessageType) *Auditor {
	return &Auditor{
		publisher: publisher,
		exchange:  exchange,
		types:     types,
		now:       time.Now,
	}
}

// Listener publishes every frame of the audited types. A failed publish is
// reported but never stops the frame.
func (a *Auditor) Listener() dispatch.Listener {
	return dispatch.Listener{
		Name:   "audit",
		Types:  a.types,
		Handle: a.handle,
	}
}

func (a *Auditor) handle(f *frame.Frame, id model.ConnectionId) dispatch.Result {
	body, err := json.Marshal(a.newEvent(f, id))
	if err != nil {
		return dispatch.Fail(err)
	}

	err = a.publisher.Publish(a.exchange, strings.ToLower(f.Command), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.now(),
		Body:         body,
	})
	if err != nil {
		return dispatch.Fail(fmt.Errorf("unable to publish audit event: %w", err))
	}
	return dispatch.Proceed()
}

func (a *Auditor) newEvent(f *frame.Frame, id model.ConnectionId) *Event {
	headers := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		key, value := f.Header.GetAt(i)
		if _, seen := headers[key]; seen {
			continue
		}
		if key == frame.Passcode {
			value = redacted
		}
		headers[key] = value
	}
	return &Event{
		Connection: id.String(),
		Command:    f.Command,
		Headers:    headers,
		Body:       string(f.Body),
		Timestamp:  a.now().UTC(),
	}
}

// Dial connects to the broker at url and declares the durable topic exchange
// audit events are published to.
func Dial(url string, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err = ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, err
	}
	log.Log.Infof("publishing audit events to exchange %s", exchange)
	return conn, ch, nil
}
