// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package codec

import (
	"errors"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/vmware/stompgate/model"
	"testing"
)

func TestParser_Parse(t *testing.T) {
	f, err := NewParser().Parse("SEND\ndestination:/queue/a\nreceipt:r-1\n\nhello\x00")

	assert.Nil(t, err)
	assert.Equal(t, frame.SEND, f.Command)
	assert.Equal(t, "/queue/a", f.Header.Get(frame.Destination))
	assert.Equal(t, "r-1", f.Header.Get(frame.Receipt))
	assert.Equal(t, []byte("hello"), f.Body)
}

func TestParser_Malformed(t *testing.T) {
	p := NewParser()
	for _, text := range []string{
		"",
		"\n",
		"SEND\nno-colon-header\n\n\x00",
		"SEND\ndestination:/a\n\nunterminated",
		"FOO\n\n\x00",
	} {
		f, err := p.Parse(text)
		assert.Nil(t, f, "%q", text)
		assert.True(t, errors.Is(err, model.ErrMalformedFrame), "%q", text)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	original := frame.New(frame.MESSAGE, frame.Destination, "/topic/a", frame.MessageId, "7")
	original.Body = []byte("payload")

	text, err := Encode(original)
	assert.Nil(t, err)

	parsed, err := NewParser().Parse(text)
	assert.Nil(t, err)
	assert.Equal(t, frame.MESSAGE, parsed.Command)
	assert.Equal(t, "/topic/a", parsed.Header.Get(frame.Destination))
	assert.Equal(t, []byte("payload"), parsed.Body)
}

func TestEncode_Heartbeat(t *testing.T) {
	text, err := Encode(nil)
	assert.Nil(t, err)
	assert.Equal(t, "\n", text)
}
