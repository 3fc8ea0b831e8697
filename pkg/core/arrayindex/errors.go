// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrayindex

import (
	"fmt"
	"strings"

	"github.com/gomlx/arrayindex/backends"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Kind classifies the errors returned by arrayindex.
type Kind int

//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go errors.go

const (
	// KindUnknown is never set by arrayindex. It is returned by KindOf for errors not created by this package.
	KindUnknown Kind = iota

	// BuildError indicates the device program failed to compile: malformed source or unsupported options.
	// The cache is left empty for the key, so a later call compiles again.
	BuildError

	// LookupError indicates the compiled program doesn't have the expected entry point. It is a
	// source/options mismatch, and it is not retried.
	LookupError

	// LaunchError indicates binding the arguments or enqueuing the kernel failed. Typically, a precondition
	// violation, like a buffer in the wrong device or an inconsistent layout.
	LaunchError

	// DeviceError indicates the execution faulted after it was enqueued. It is only detected when
	// draining the queue (see Dispatcher.WithDebugFinish).
	DeviceError
)

// Error is the error type returned by arrayindex. It wraps the cause reported by the backend.
type Error struct {
	Kind      Kind
	Op        string
	Device    backends.DeviceNum
	Signature Signature
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "arrayindex %s: %s for %s on %s", e.Kind, e.Op, e.Signature, e.Device)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the cause, for errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Cause returns the cause, for github.com/pkg/errors.Cause.
func (e *Error) Cause() error { return e.Err }

// Format implements fmt.Formatter, so that "%+v" prints the stack trace of the cause, if it has one.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "arrayindex %s: %s for %s on %s", e.Kind, e.Op, e.Signature, e.Device)
			if e.Err != nil {
				_, _ = fmt.Fprintf(s, ": %+v", e.Err)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// newError wraps err with the kind and context of the operation. err is given a stack trace if it doesn't have one.
func newError(kind Kind, op string, device backends.DeviceNum, sig Signature, err error) *Error {
	if err == nil {
		err = errors.New("unknown failure")
	} else if _, hasStack := err.(interface{ StackTrace() errors.StackTrace }); !hasStack {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Device: device, Signature: sig, Err: err}
}

// KindOf returns the Kind of the first *Error found in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind returns whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// callBackend calls fn and converts any panic it raises into a returned error.
// Panics with non-error values are wrapped.
func callBackend(fn func() error) (err error) {
	exception := exceptions.Try(func() { err = fn() })
	if exception == nil {
		return
	}
	if panicErr, ok := exception.(error); ok {
		return panicErr
	}
	return errors.Errorf("backend panic: %v", exception)
}
