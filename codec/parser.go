// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package codec

import (
	"bytes"
	"fmt"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/vmware/stompgate/model"
	"strings"
)

// Parser turns the text of one complete frame into a frame object.
type Parser interface {
	Parse(text string) (*frame.Frame, error)
}

type stompParser struct{}

// NewParser returns a Parser backed by the go-stomp frame reader.
func NewParser() Parser {
	return stompParser{}
}

func (stompParser) Parse(text string) (*frame.Frame, error) {
	f, err := frame.NewReader(strings.NewReader(text)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no frame in input", model.ErrMalformedFrame)
	}
	if _, ok := model.ParseMessageType(f.Command); !ok {
		return nil, fmt.Errorf("%w: unknown command %q", model.ErrMalformedFrame, f.Command)
	}
	return f, nil
}

// Encode renders a frame in its wire format.
func Encode(f *frame.Frame) (string, error) {
	buf := &bytes.Buffer{}
	if err := frame.NewWriter(buf).Write(f); err != nil {
		return "", err
	}
	return buf.String(), nil
}
