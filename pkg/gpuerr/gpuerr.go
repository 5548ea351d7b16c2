// Copyright 2023 The iodisco Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gpuerr defines the error taxonomy shared by every iodisco layer.
package gpuerr

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind classifies a failure.
//
// Kind implements error so that callers can test for a class with
// errors.Is(err, gpuerr.ModeViolation).
type Kind int

// Failure classes.
const (
	// PermissionDenied: the process cannot reach the device node through an
	// allowed group, or the kernel refused the open.
	PermissionDenied Kind = iota + 1

	// DeviceNotFound: the path does not resolve to a recognized GPU node.
	DeviceNotFound

	// DeviceBusy: exclusive access was required and is held elsewhere.
	DeviceBusy

	// Unclassified: the operation has no catalog entry. Never downgraded.
	Unclassified

	// ModeViolation: the operating mode does not permit the operation's
	// risk tier. Never downgraded.
	ModeViolation

	// EncodingError: the request does not match the declared layout.
	EncodingError

	// UnsupportedOperation: the driver does not implement the request.
	UnsupportedOperation

	// DeviceError: the driver rejected or failed the request.
	DeviceError

	// Timeout: the call did not complete in time.
	Timeout

	// Unknown: any other kernel failure.
	Unknown
)

var kindNames = map[Kind]string{
	PermissionDenied:     "PermissionDenied",
	DeviceNotFound:       "DeviceNotFound",
	DeviceBusy:           "DeviceBusy",
	Unclassified:         "Unclassified",
	ModeViolation:        "ModeViolation",
	EncodingError:        "EncodingError",
	UnsupportedOperation: "UnsupportedOperation",
	DeviceError:          "DeviceError",
	Timeout:              "Timeout",
	Unknown:              "Unknown",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if strings.EqualFold(name, string(b)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// SessionFatal returns true for the classes that abort a whole device
// session rather than a single query.
func (k Kind) SessionFatal() bool {
	switch k {
	case PermissionDenied, DeviceNotFound, DeviceBusy:
		return true
	default:
		return false
	}
}

// Error is the concrete error returned by iodisco packages.
type Error struct {
	Kind Kind

	// Op is the failing operation, e.g. "open" or "dispatch".
	Op string

	// Path is the device node involved, if any.
	Path string

	// Name is the catalog entry involved, if any.
	Name string

	// Errno is the kernel error behind Kind, or 0.
	Errno unix.Errno

	// Reason is a human readable explanation.
	Reason string

	// Err is the wrapped cause, if any.
	Err error
}

// New returns an Error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an Error of the given kind caused by err.
func Wrap(kind Kind, op string, err error) *Error {
	e := &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if e.Name != "" {
		b.WriteString(e.Name)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	switch {
	case e.Reason != "":
		fmt.Fprintf(&b, ": %s", e.Reason)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Errno != 0 && e.Err == nil {
		fmt.Fprintf(&b, " (%s)", unix.ErrnoName(e.Errno))
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is e's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// WithPath returns a copy of e annotated with a device path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithName returns a copy of e annotated with a catalog entry name.
func (e *Error) WithName(name string) *Error {
	c := *e
	c.Name = name
	return &c
}

// KindOf returns the Kind of err, or Unknown if err does not carry one.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}
