// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package dispatch

type Outcome int

const (
	// Continue lets the next interested listener see the frame.
	Continue Outcome = iota
	// Halt stops dispatch of the current frame.
	Halt
	// Failed records an error; dispatch still continues.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Halt:
		return "halt"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is what a listener returns for one frame.
type Result struct {
	Outcome Outcome
	Err     error
}

func Proceed() Result {
	return Result{Outcome: Continue}
}

func Stop() Result {
	return Result{Outcome: Halt}
}

func Fail(err error) Result {
	return Result{Outcome: Failed, Err: err}
}
